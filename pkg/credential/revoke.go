package credential

import (
	"context"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"strings"
)

// Revoke permanently revokes a credential, logging the revocation to the ledger before it is stored.
func (s *Service) Revoke(ctx context.Context, id, reason string) (credential credentials.Credential, err error) {
	ctx, finish := s.startOperation(ctx, OperationRevoke, attribute.String("credential.id", id))
	defer func() {
		finish(err)
	}()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return credentials.Credential{}, fmt.Errorf("%w: a reason is required to revoke a credential", errs.ErrValidationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RevokeTimeout)
	defer cancel()

	credential, ok, err := s.load(ctx, id, false)
	if err != nil {
		return credentials.Credential{}, err
	}

	if !ok {
		return credentials.Credential{}, fmt.Errorf("%w: credential %s", errs.ErrNotFound, id)
	}

	if credential.Status == credentials.StatusRevoked {
		return credentials.Credential{}, fmt.Errorf("%w: %s", ErrAlreadyRevoked, id)
	}

	previous := credential.Status
	credential.Status = credentials.StatusRevoked

	if _, err := s.submitAudit(ctx, credential, credentials.ActionRevoked, map[string]any{
		"reason":         reason,
		"previousStatus": string(previous),
	}); err != nil {
		return credentials.Credential{}, err
	}

	rc := s.retry.Context("credential_update_status").WithMetadata("credential_id", id)
	if err := s.retry.Execute(ctx, rc, func(ctx context.Context) error {
		return s.repo.Credentials().UpdateStatus(ctx, id, credentials.StatusRevoked)
	}); err != nil {
		return credentials.Credential{}, err
	}

	s.addTimelineEntry(ctx, credential, credentials.ActionRevoked, s.config.IssuerID, reason, nil)
	s.invalidate(ctx, credential)

	s.logger.Info("Revoked credential",
		zap.String("credential_id", id),
		zap.String("product_id", credential.ProductID),
		zap.String("reason", reason),
	)

	return credential, nil
}
