package credentials

// ValidationResult is the outcome of running every registered rule against a credential.
type ValidationResult struct {
	IsValid       bool     `json:"isValid"`
	PassedRuleIDs []string `json:"passedRuleIds"`
	FailedRuleIDs []string `json:"failedRuleIds"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Score         int      `json:"score"`
}
