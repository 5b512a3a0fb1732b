package credentials

import (
	"math"
	"time"
)

type Status string

const (
	StatusIssued  Status = "issued"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Terminal statuses can never be left.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

func (s Status) Valid() bool {
	switch s {
	case StatusIssued, StatusActive, StatusExpired, StatusRevoked:
		return true
	default:
		return false
	}
}

type (
	// Credential is a signed, time-bounded attestation that a product passed a named set of compliance rules.
	Credential struct {
		ID              string     `json:"id" bson:"credential_id"`
		ProductID       string     `json:"productId" bson:"product_id"`
		Issuer          string     `json:"issuer" bson:"issuer"`
		IssuedAt        time.Time  `json:"issuedAt" bson:"issued_at"`
		ExpiresAt       *time.Time `json:"expiresAt" bson:"expires_at"`
		Status          Status     `json:"status" bson:"status"`
		CredentialType  string     `json:"credentialType" bson:"credential_type"`
		Metadata        Metadata   `json:"metadata" bson:"metadata"`
		Signature       string     `json:"signature" bson:"signature"`
		LedgerMessageID string     `json:"ledgerMessageId" bson:"ledger_message_id"`
		TransactionID   *string    `json:"transactionId,omitempty" bson:"transaction_id,omitempty"`
	}

	Metadata struct {
		ValidationDetails map[string]any `json:"validationDetails,omitempty" bson:"validation_details,omitempty"`
		ComplianceRules   []string       `json:"complianceRules" bson:"compliance_rules"`
		VerificationLevel string         `json:"verificationLevel" bson:"verification_level"`
		PolicyID          *string        `json:"policyId,omitempty" bson:"policy_id,omitempty"`
		ValidatedAt       *time.Time     `json:"validatedAt,omitempty" bson:"validated_at,omitempty"`
		Score             *int           `json:"score,omitempty" bson:"score,omitempty"`
	}
)

// IsExpired reports whether the credential has a expiry date that lies before now. Credentials without an expiry
// date never expire.
func (c Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// DaysUntilExpiration returns the number of days, rounded up, until the credential expires. The boolean is false
// for credentials that never expire. A credential that has already expired yields zero or a negative number.
func (c Credential) DaysUntilExpiration(now time.Time) (int, bool) {
	if c.ExpiresAt == nil {
		return 0, false
	}

	days := c.ExpiresAt.Sub(now).Hours() / 24
	return int(math.Ceil(days)), true
}

// Clone returns a deep copy, so that callers can mutate the result without affecting cached or stored copies.
func (c Credential) Clone() Credential {
	clone := c

	if c.ExpiresAt != nil {
		expiresAt := *c.ExpiresAt
		clone.ExpiresAt = &expiresAt
	}

	if c.TransactionID != nil {
		txId := *c.TransactionID
		clone.TransactionID = &txId
	}

	if c.Metadata.ComplianceRules != nil {
		clone.Metadata.ComplianceRules = append([]string(nil), c.Metadata.ComplianceRules...)
	}

	if c.Metadata.ValidationDetails != nil {
		clone.Metadata.ValidationDetails = make(map[string]any, len(c.Metadata.ValidationDetails))
		for k, v := range c.Metadata.ValidationDetails {
			clone.Metadata.ValidationDetails[k] = v
		}
	}

	if c.Metadata.PolicyID != nil {
		policyId := *c.Metadata.PolicyID
		clone.Metadata.PolicyID = &policyId
	}

	if c.Metadata.ValidatedAt != nil {
		validatedAt := *c.Metadata.ValidatedAt
		clone.Metadata.ValidatedAt = &validatedAt
	}

	if c.Metadata.Score != nil {
		score := *c.Metadata.Score
		clone.Metadata.Score = &score
	}

	return clone
}
