// Package expiry periodically reports credentials that are about to expire, or already have. Status changes are not
// made here: a credential is only marked expired when it is next loaded for verification.
package expiry

import (
	"context"
	"github.com/RyanW02/supplytrail/internal/config"
	"github.com/RyanW02/supplytrail/pkg/credential"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"go.uber.org/zap"
	"time"
)

type (
	Reporter interface {
		SetCredentialExpiry(expiring, expired int)
	}

	Agent struct {
		config     config.Config
		logger     *zap.Logger
		repository repository.Repository
		reporter   Reporter
		now        func() time.Time
	}

	Report struct {
		ScannedAt time.Time                       `json:"scannedAt"`
		Expiring  []credential.ExpiringCredential `json:"expiring"`
		Expired   []credentials.Credential        `json:"expired"`
	}
)

func NewAgent(
	config config.Config,
	logger *zap.Logger,
	repository repository.Repository,
	reporter Reporter,
) *Agent {
	return &Agent{
		config:     config,
		logger:     logger,
		repository: repository,
		reporter:   reporter,
		now:        time.Now,
	}
}

func (a *Agent) StartLoop(shutdownCh chan chan error) {
	ticker := time.NewTicker(a.config.Expiry.ScanInterval.Duration())
	defer ticker.Stop()

	if a.config.Expiry.RunAtStartup {
		if _, err := a.scanWithTimeout(); err != nil {
			a.logger.Error("Failed to run credential expiry scan at startup", zap.Error(err))
		}
	}

	for {
		select {
		case ch := <-shutdownCh:
			ch <- nil
			return
		case <-ticker.C:
			if _, err := a.scanWithTimeout(); err != nil {
				a.logger.Error("Failed to run credential expiry scan", zap.Error(err))
			}
		}
	}
}

func (a *Agent) scanWithTimeout() (Report, error) {
	ctx, cancelFunc := context.WithTimeout(context.Background(), a.config.Expiry.ScanTimeout.Duration())
	defer cancelFunc()

	return a.Scan(ctx)
}

// Scan finds the credentials that expire inside the warning window, or have expired without being marked as such,
// and reports the counts.
func (a *Agent) Scan(ctx context.Context) (Report, error) {
	now := a.now()
	warningDays := a.config.Expiry.WarningDays
	if warningDays <= 0 {
		warningDays = credential.DefaultWarningDays
	}

	a.logger.Info("Scanning for expiring credentials", zap.Int("warning_days", warningDays))

	before := now.Add(time.Duration(warningDays) * 24 * time.Hour)
	candidates, err := a.repository.Credentials().FindExpiringBefore(ctx, before, a.config.Expiry.BatchSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ScannedAt: now,
		Expiring:  credential.GetExpiringCredentials(candidates, warningDays, now),
		Expired:   credential.GetExpiredCredentials(candidates, now),
	}

	for _, expired := range report.Expired {
		a.logger.Debug("Credential has expired",
			zap.String("credential_id", expired.ID),
			zap.String("product_id", expired.ProductID),
			zap.Timep("expires_at", expired.ExpiresAt),
		)
	}

	if len(candidates) == a.config.Expiry.BatchSize {
		a.logger.Warn("Credential expiry scan hit the batch size, counts are a lower bound",
			zap.Int("batch_size", a.config.Expiry.BatchSize))
	}

	if a.reporter != nil {
		a.reporter.SetCredentialExpiry(len(report.Expiring), len(report.Expired))
	}

	a.logger.Info("Credential expiry scan complete",
		zap.Int("expiring", len(report.Expiring)),
		zap.Int("expired", len(report.Expired)),
	)

	return report, nil
}
