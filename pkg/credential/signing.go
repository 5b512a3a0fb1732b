package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"time"
)

// signedFields are the parts of a credential covered by its signature. Status and ledger references change after
// issue, so they are excluded.
type signedFields struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"productId"`
	Issuer            string     `json:"issuer"`
	IssuedAt          time.Time  `json:"issuedAt"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	CredentialType    string     `json:"credentialType"`
	ComplianceRules   []string   `json:"complianceRules"`
	VerificationLevel string     `json:"verificationLevel"`
	PolicyID          *string    `json:"policyId,omitempty"`
}

// Sign computes the HMAC-SHA256 of the canonical encoding of the credential's signed fields, hex encoded.
func Sign(credential credentials.Credential, key []byte) (string, error) {
	rules := credential.Metadata.ComplianceRules
	if rules == nil {
		rules = []string{}
	}

	payload, err := codec.SigningPayload(signedFields{
		ID:                credential.ID,
		ProductID:         credential.ProductID,
		Issuer:            credential.Issuer,
		IssuedAt:          credential.IssuedAt,
		ExpiresAt:         credential.ExpiresAt,
		CredentialType:    credential.CredentialType,
		ComplianceRules:   rules,
		VerificationLevel: credential.Metadata.VerificationLevel,
		PolicyID:          credential.Metadata.PolicyID,
	})
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the signature and compares it in constant time.
func VerifySignature(credential credentials.Credential, key []byte) bool {
	expected, err := Sign(credential, key)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(expected), []byte(credential.Signature))
}
