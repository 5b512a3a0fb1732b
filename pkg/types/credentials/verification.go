package credentials

import "time"

type ErrorCode string

const (
	CodeNotFound           ErrorCode = "CREDENTIAL_NOT_FOUND"
	CodeExpired            ErrorCode = "CREDENTIAL_EXPIRED"
	CodeRevoked            ErrorCode = "CREDENTIAL_REVOKED"
	CodeInvalidSignature   ErrorCode = "INVALID_SIGNATURE"
	CodeBlockchainFailed   ErrorCode = "BLOCKCHAIN_VERIFICATION_FAILED"
	CodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
)

type (
	VerificationRequest struct {
		CredentialID     string `json:"credentialId" validate:"required"`
		VerifySignature  *bool  `json:"verifySignature,omitempty"`
		VerifyBlockchain *bool  `json:"verifyBlockchain,omitempty"`
	}

	VerificationResponse struct {
		IsValid      bool               `json:"isValid"`
		Credential   *Credential        `json:"credential,omitempty"`
		Verification VerificationChecks `json:"verification"`
		Error        *VerificationError `json:"error,omitempty"`
	}

	VerificationChecks struct {
		SignatureValid  bool      `json:"signatureValid"`
		NotExpired      bool      `json:"notExpired"`
		NotRevoked      bool      `json:"notRevoked"`
		BlockchainValid *bool     `json:"blockchainValid,omitempty"`
		VerifiedAt      time.Time `json:"verifiedAt"`
	}

	VerificationError struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}
)

// ShouldVerifySignature defaults to true when the caller did not say otherwise.
func (r VerificationRequest) ShouldVerifySignature() bool {
	return r.VerifySignature == nil || *r.VerifySignature
}

// ShouldVerifyBlockchain defaults to false, as it is the only check that is not answered locally.
func (r VerificationRequest) ShouldVerifyBlockchain() bool {
	return r.VerifyBlockchain != nil && *r.VerifyBlockchain
}
