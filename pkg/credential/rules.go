package credential

import (
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"go.uber.org/zap"
	"slices"
	"time"
)

const (
	RuleStructure        = "structure"
	RuleSignature        = "signature"
	RuleNotExpired       = "not_expired"
	RuleStatus           = "status"
	RuleLedgerLogged     = "ledger_logged"
	RuleComplianceRules  = "compliance_rules"
	RuleTrustedIssuer    = "trusted_issuer"
	RuleMetadataComplete = "metadata_complete"
)

// NewDefaultValidator creates a validator with the standard rule set. Only credentials from trustedIssuers pass
// the issuer rule.
func NewDefaultValidator(logger *zap.Logger, trustedIssuers []string, now func() time.Time) *Validator {
	v := NewValidator(logger, now)

	for _, rule := range DefaultRules(trustedIssuers, v.now) {
		// Infallible, every default rule has an id and predicate
		_ = v.Register(rule)
	}

	return v
}

func DefaultRules(trustedIssuers []string, now func() time.Time) []Rule {
	trusted := slices.Clone(trustedIssuers)

	return []Rule{
		{
			ID:          RuleStructure,
			Name:        "Structure",
			Description: "Identifier, product, issuer, issue date, type, status and signature are present",
			Required:    true,
			Message:     "Credential is missing required fields",
			Validate: func(c credentials.Credential) (bool, error) {
				return c.ID != "" && c.ProductID != "" && c.Issuer != "" && !c.IssuedAt.IsZero() &&
					c.CredentialType != "" && c.Status != "" && c.Signature != "", nil
			},
		},
		{
			ID:          RuleSignature,
			Name:        "Signature",
			Description: "The credential carries a signature",
			Required:    true,
			Message:     "Credential signature is missing",
			Validate: func(c credentials.Credential) (bool, error) {
				return c.Signature != "", nil
			},
		},
		{
			ID:          RuleNotExpired,
			Name:        "Not expired",
			Description: "The expiry date, if any, has not passed",
			Required:    true,
			Message:     "Credential has expired",
			Validate: func(c credentials.Credential) (bool, error) {
				return !c.IsExpired(now()), nil
			},
		},
		{
			ID:          RuleStatus,
			Name:        "Status",
			Description: "The credential is issued or active",
			Required:    true,
			Message:     "Credential is not in an issued or active state",
			Validate: func(c credentials.Credential) (bool, error) {
				return c.Status == credentials.StatusIssued || c.Status == credentials.StatusActive, nil
			},
		},
		{
			ID:          RuleLedgerLogged,
			Name:        "Logged to ledger",
			Description: "The credential has been recorded on the ledger",
			Required:    true,
			Message:     "Credential has not been logged to the ledger",
			Validate: func(c credentials.Credential) (bool, error) {
				return c.LedgerMessageID != "", nil
			},
		},
		{
			ID:          RuleComplianceRules,
			Name:        "Compliance rules",
			Description: "At least one compliance rule is listed",
			Required:    true,
			Message:     "No compliance rules specified",
			Validate: func(c credentials.Credential) (bool, error) {
				return len(c.Metadata.ComplianceRules) > 0, nil
			},
		},
		{
			ID:          RuleTrustedIssuer,
			Name:        "Trusted issuer",
			Description: "The issuer is on the trusted issuer list",
			Required:    true,
			Message:     "Credential issuer is not trusted",
			Validate: func(c credentials.Credential) (bool, error) {
				return slices.Contains(trusted, c.Issuer), nil
			},
		},
		{
			ID:          RuleMetadataComplete,
			Name:        "Metadata completeness",
			Description: "Validation details, rules, verification level and validation date are present",
			Required:    false,
			Message:     "Credential metadata is incomplete",
			Validate: func(c credentials.Credential) (bool, error) {
				m := c.Metadata
				return len(m.ValidationDetails) > 0 && len(m.ComplianceRules) > 0 && m.VerificationLevel != "" &&
					m.ValidatedAt != nil, nil
			},
		},
	}
}
