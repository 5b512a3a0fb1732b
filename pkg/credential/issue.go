package credential

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/ledger"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/RyanW02/supplytrail/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"strings"
	"time"
)

type (
	IssueRequest struct {
		ProductID         string         `json:"productId" validate:"required,max=128"`
		CredentialType    string         `json:"credentialType" validate:"required,max=64"`
		ComplianceRules   []string       `json:"complianceRules" validate:"dive,required"`
		ValidationDetails map[string]any `json:"validationDetails"`
		VerificationLevel string         `json:"verificationLevel" validate:"omitempty,oneof=basic standard enhanced"`
		PolicyID          *string        `json:"policyId" validate:"omitempty,min=1"`
		// ExpiresAt overrides the default expiry. It must lie in the future.
		ExpiresAt *time.Time `json:"expiresAt"`
		// NeverExpires issues a credential without an expiry date, and cannot be combined with ExpiresAt.
		NeverExpires bool `json:"neverExpires" validate:"excluded_with=ExpiresAt"`
	}

	IssueResult struct {
		Credential    credentials.Credential `json:"credential"`
		LedgerReceipt ledger.Receipt         `json:"ledgerReceipt"`
		// QRPayload is the canonical JSON document that a QR code for the credential encodes.
		QRPayload string `json:"qrPayload"`
	}

	qrPayload struct {
		Type            string `json:"type"`
		CredentialID    string `json:"credentialId"`
		ProductID       string `json:"productId"`
		Issuer          string `json:"issuer"`
		VerificationUrl string `json:"verificationUrl,omitempty"`
	}
)

// Issue creates, signs, logs to the ledger and stores a new credential for a product. The credential is issued
// whether or not it passes validation; the validation score is recorded in its metadata.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (res IssueResult, err error) {
	ctx, finish := s.startOperation(ctx, OperationIssue, attribute.String("credential.product_id", req.ProductID))
	defer func() {
		finish(err)
	}()

	logger := s.logger.With(zap.String("product_id", req.ProductID))

	res, err = s.issue(ctx, req)
	if err != nil {
		logger.Warn("Failed to issue credential", zap.Error(err))
		return IssueResult{}, err
	}

	logger.Info("Issued credential",
		zap.String("credential_id", res.Credential.ID),
		zap.String("ledger_message_id", res.Credential.LedgerMessageID),
	)

	return res, nil
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if err := s.validateRequest(req); err != nil {
		return IssueResult{}, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return IssueResult{}, fmt.Errorf("%w: expiresAt must be in the future", errs.ErrValidationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.IssueTimeout)
	defer cancel()

	// Held until the credential is stored, so concurrent issues for one product cannot overshoot the cap
	release, err := s.issuing.acquire(ctx, req.ProductID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: waiting to issue for product %s: %s", errs.ErrNetworkTimeout, req.ProductID, err.Error())
	}
	defer release()

	countRc := s.retry.Context("credential_count").WithMetadata("product_id", req.ProductID)
	count, err := retry.Do(ctx, s.retry, countRc, func(ctx context.Context) (int, error) {
		return s.repo.Credentials().CountByProductID(ctx, req.ProductID)
	})
	if err != nil {
		return IssueResult{}, err
	}

	if s.config.MaxCredentialsPerProduct > 0 && count >= s.config.MaxCredentialsPerProduct {
		return IssueResult{}, fmt.Errorf("%w: product %s already has %d credentials (maximum %d)",
			errs.ErrLimitExceeded, req.ProductID, count, s.config.MaxCredentialsPerProduct)
	}

	credential := credentials.Credential{
		ID:             uuid.NewString(),
		ProductID:      req.ProductID,
		Issuer:         s.config.IssuerID,
		IssuedAt:       now,
		ExpiresAt:      s.expiryFor(req, now),
		Status:         credentials.StatusIssued,
		CredentialType: req.CredentialType,
		Metadata: credentials.Metadata{
			ValidationDetails: req.ValidationDetails,
			ComplianceRules:   append([]string{}, req.ComplianceRules...),
			VerificationLevel: req.VerificationLevel,
			PolicyID:          req.PolicyID,
		},
	}

	if credential.Signature, err = Sign(credential, s.config.SigningKey); err != nil {
		return IssueResult{}, fmt.Errorf("failed to sign credential: %w", err)
	}

	details := map[string]any{
		"complianceRules": credential.Metadata.ComplianceRules,
		"signature":       credential.Signature,
	}
	if credential.ExpiresAt != nil {
		details["expiresAt"] = credential.ExpiresAt.Format(time.RFC3339Nano)
	}

	receipt, err := s.submitAudit(ctx, credential, credentials.ActionIssued, details)
	if err != nil {
		return IssueResult{}, err
	}

	credential.LedgerMessageID = ledgerMessageID(receipt)
	credential.TransactionID = utils.Ptr(receipt.TransactionID)

	credential.Metadata.ValidatedAt = utils.Ptr(now)
	validation := s.validator.Validate(credential)
	credential.Metadata.Score = utils.Ptr(validation.Score)

	createRc := s.retry.Context("credential_create").WithMetadata("credential_id", credential.ID)
	if err := s.retry.Execute(ctx, createRc, func(ctx context.Context) error {
		return s.repo.Credentials().Create(ctx, credential)
	}); err != nil {
		return IssueResult{}, err
	}

	s.addTimelineEntry(ctx, credential, credentials.ActionIssued, s.config.IssuerID, "", map[string]any{
		"ledgerMessageId": credential.LedgerMessageID,
		"score":           validation.Score,
	})
	s.invalidate(ctx, credential)

	qr, err := codec.SigningPayload(qrPayload{
		Type:            "supplytrail-credential",
		CredentialID:    credential.ID,
		ProductID:       credential.ProductID,
		Issuer:          credential.Issuer,
		VerificationUrl: s.verificationUrl(credential.ID),
	})
	if err != nil {
		return IssueResult{}, err
	}

	return IssueResult{
		Credential:    credential,
		LedgerReceipt: receipt,
		QRPayload:     qr,
	}, nil
}

func (s *Service) validateRequest(req IssueRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fields := make([]string, len(validationErrs))
			for i, fieldErr := range validationErrs {
				fields[i] = fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag())
			}

			return fmt.Errorf("%w: %s", errs.ErrValidationFailed, strings.Join(fields, "; "))
		}

		return fmt.Errorf("%w: %s", errs.ErrValidationFailed, err.Error())
	}

	return nil
}

func (s *Service) expiryFor(req IssueRequest, now time.Time) *time.Time {
	switch {
	case req.ExpiresAt != nil:
		return utils.Ptr(req.ExpiresAt.UTC().Truncate(time.Millisecond))
	case req.NeverExpires || s.config.DefaultExpiration <= 0:
		return nil
	default:
		return utils.Ptr(now.Add(s.config.DefaultExpiration))
	}
}

func (s *Service) verificationUrl(id string) string {
	if s.config.VerificationUrl == "" {
		return ""
	}

	return strings.TrimSuffix(s.config.VerificationUrl, "/") + "/" + id
}

// ledgerMessageID identifies a message by its position on the topic, falling back to the transaction when the
// ledger did not report a sequence number.
func ledgerMessageID(receipt ledger.Receipt) string {
	if receipt.SequenceNumber != nil {
		return fmt.Sprintf("%s@%d", receipt.TopicID, *receipt.SequenceNumber)
	}

	return receipt.TransactionID
}
