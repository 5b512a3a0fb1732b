package credential

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/RyanW02/supplytrail/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Verify checks a credential's signature, expiry, revocation and, optionally, its presence on the ledger. A
// credential that does not exist or fails a check is reported in the response, not as an error; errors are
// reserved for infrastructure failures.
func (s *Service) Verify(ctx context.Context, req credentials.VerificationRequest) (res credentials.VerificationResponse, err error) {
	ctx, finish := s.startOperation(ctx, OperationVerify, attribute.String("credential.id", req.CredentialID))
	defer func() {
		finish(err)
	}()

	res = credentials.VerificationResponse{
		Verification: credentials.VerificationChecks{
			VerifiedAt: s.now().UTC(),
		},
	}

	if err := s.validate.Struct(req); err != nil {
		res.Error = &credentials.VerificationError{
			Code:    credentials.CodeVerificationFailed,
			Message: "credentialId is required",
		}
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()

	credential, ok, err := s.load(ctx, req.CredentialID, true)
	if err != nil {
		s.logger.Error("Failed to load credential for verification", zap.String("credential_id", req.CredentialID), zap.Error(err))
		return credentials.VerificationResponse{}, err
	}

	if !ok {
		res.Error = &credentials.VerificationError{
			Code:    credentials.CodeNotFound,
			Message: "Credential not found",
		}
		return res, nil
	}

	credential, err = s.expireIfDue(ctx, credential)
	if err != nil {
		return credentials.VerificationResponse{}, err
	}

	checks := &res.Verification
	checks.SignatureValid = !req.ShouldVerifySignature() || VerifySignature(credential, s.config.SigningKey)
	checks.NotExpired = credential.Status != credentials.StatusExpired && !credential.IsExpired(s.now())
	checks.NotRevoked = credential.Status != credentials.StatusRevoked

	if req.ShouldVerifyBlockchain() {
		checks.BlockchainValid = utils.Ptr(credential.LedgerMessageID != "")
	}

	res.Credential = utils.Ptr(credential)
	res.IsValid = checks.SignatureValid && checks.NotExpired && checks.NotRevoked &&
		(checks.BlockchainValid == nil || *checks.BlockchainValid)

	switch {
	case !checks.NotExpired:
		res.Error = &credentials.VerificationError{Code: credentials.CodeExpired, Message: "Credential has expired"}
	case !checks.NotRevoked:
		res.Error = &credentials.VerificationError{Code: credentials.CodeRevoked, Message: "Credential has been revoked"}
	case !checks.SignatureValid:
		res.Error = &credentials.VerificationError{Code: credentials.CodeInvalidSignature, Message: "Credential signature is invalid"}
	case checks.BlockchainValid != nil && !*checks.BlockchainValid:
		res.Error = &credentials.VerificationError{Code: credentials.CodeBlockchainFailed, Message: "Credential is not recorded on the ledger"}
	}

	details := map[string]any{"isValid": res.IsValid}
	if res.Error != nil {
		details["errorCode"] = string(res.Error.Code)
	}

	if _, err := s.submitAudit(ctx, credential, credentials.ActionVerified, details); err != nil {
		s.logger.Warn("Failed to log verification to the ledger", zap.String("credential_id", credential.ID), zap.Error(err))
	}
	s.addTimelineEntry(ctx, credential, credentials.ActionVerified, s.config.IssuerID, "", details)

	return res, nil
}
