package signature

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"go.uber.org/zap"
	"time"
)

type (
	// KeyResolver looks up the public key registered for an account.
	KeyResolver interface {
		ResolvePublicKey(ctx context.Context, accountID string) (ed25519.PublicKey, error)
	}

	Config struct {
		// ExpectedSigner is the account that must have produced the message. When PublicKey is nil, the key is
		// resolved from this account.
		ExpectedSigner string
		PublicKey      ed25519.PublicKey
		// MaxAge of zero disables the freshness check.
		MaxAge       time.Duration
		AllowExpired bool
	}

	Result struct {
		Valid         bool
		VerifiedAt    time.Time
		SignerAddress string
		Error         error
	}

	Verifier struct {
		logger   *zap.Logger
		resolver KeyResolver
		now      func() time.Time
	}
)

// NewVerifier creates a Verifier. resolver may be nil, in which case every call must supply a public key.
func NewVerifier(logger *zap.Logger, resolver KeyResolver) *Verifier {
	return &Verifier{
		logger:   logger,
		resolver: resolver,
		now:      time.Now,
	}
}

// VerifyMessage checks the signature of message against its recomputed signing payload. A returned error means the
// verification could not be attempted, e.g. due to a configuration problem or a failed key lookup; a message that
// fails verification is reported through Result.Error instead.
func (v *Verifier) VerifyMessage(ctx context.Context, message events.SignedMessage, cfg Config) (Result, error) {
	if cfg.PublicKey == nil && cfg.ExpectedSigner == "" {
		return Result{}, fmt.Errorf("%w: either a public key or an expected signer is required", errs.ErrValidationFailed)
	}

	now := v.now()
	result := Result{
		VerifiedAt:    now,
		SignerAddress: message.SignerAddress(),
	}

	if cfg.ExpectedSigner != "" {
		if result.SignerAddress != "" && result.SignerAddress != cfg.ExpectedSigner {
			result.Error = fmt.Errorf("%w: message signed by %s, expected %s", errs.ErrSignatureInvalid, result.SignerAddress, cfg.ExpectedSigner)
			return result, nil
		}

		result.SignerAddress = cfg.ExpectedSigner
	}

	payload, err := codec.SigningPayload(message)
	if err != nil {
		return Result{}, err
	}

	if err := CheckFormat(message.GetSignature()); err != nil {
		result.Error = err
		return result, nil
	}

	if cfg.MaxAge > 0 && now.Sub(message.GetTimestamp()) > cfg.MaxAge {
		if !cfg.AllowExpired {
			result.Error = fmt.Errorf("%w: message is older than %s", errs.ErrMessageExpired, cfg.MaxAge)
			return result, nil
		}

		v.logger.Debug("Accepting expired message", zap.String("signer", result.SignerAddress), zap.Duration("max_age", cfg.MaxAge))
	}

	publicKey := cfg.PublicKey
	if publicKey == nil {
		if v.resolver == nil {
			return Result{}, fmt.Errorf("%w: no key resolver configured to look up %s", errs.ErrValidationFailed, cfg.ExpectedSigner)
		}

		publicKey, err = v.resolver.ResolvePublicKey(ctx, cfg.ExpectedSigner)
		if err != nil {
			return Result{}, fmt.Errorf("failed to resolve public key for %s: %w", cfg.ExpectedSigner, err)
		}
	}

	if !Verify(payload, message.GetSignature(), publicKey) {
		result.Error = errs.ErrSignatureInvalid
		return result, nil
	}

	result.Valid = true
	return result, nil
}
