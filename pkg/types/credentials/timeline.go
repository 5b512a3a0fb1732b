package credentials

import "time"

type Action string

const (
	ActionIssued   Action = "issued"
	ActionVerified Action = "verified"
	ActionRevoked  Action = "revoked"
	ActionExpired  Action = "expired"
)

// TimelineEntry records a lifecycle transition of a credential for the product history.
type TimelineEntry struct {
	CredentialID string         `json:"credentialId" bson:"credential_id"`
	ProductID    string         `json:"productId" bson:"product_id"`
	Action       Action         `json:"action" bson:"action"`
	Actor        string         `json:"actor" bson:"actor"`
	Reason       string         `json:"reason,omitempty" bson:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp" bson:"timestamp"`
}
