package events

import (
	"encoding/json"
	"time"
)

// EnvelopeMaxSize is the wire ceiling for the generic topic envelope.
const EnvelopeMaxSize = 6144

type MessageType string

const (
	MessageTypeEvent           MessageType = "event"
	MessageTypeComplianceCheck MessageType = "compliance_check"
	MessageTypeReward          MessageType = "reward"
)

func (t MessageType) Known() bool {
	switch t {
	case MessageTypeEvent, MessageTypeComplianceCheck, MessageTypeReward:
		return true
	default:
		return false
	}
}

type (
	// Envelope is the generic message format carried on a ledger topic.
	Envelope struct {
		Version     string         `json:"version"`
		MessageType MessageType    `json:"messageType"`
		ProductID   string         `json:"productId"`
		Payload     map[string]any `json:"payload,omitempty"`
		Signature   string         `json:"signature"`
		Timestamp   time.Time      `json:"timestamp"`
		Metadata    Metadata       `json:"metadata"`
	}

	Metadata struct {
		Network        string         `json:"network"`
		TopicID        string         `json:"topicId"`
		SequenceNumber SequenceNumber `json:"sequenceNumber"`
	}
)

var _ SignedMessage = (*Envelope)(nil)

func (e Envelope) GetSignature() string {
	return e.Signature
}

func (e Envelope) GetTimestamp() time.Time {
	return e.Timestamp
}

// SignerAddress is taken from the payload, as the envelope itself does not identify its author.
func (e Envelope) SignerAddress() string {
	if signer, ok := e.Payload["signer"].(string); ok {
		return signer
	}

	return ""
}

// PayloadFrom converts a typed payload into the free-form map carried by an Envelope.
func PayloadFrom(v any) (map[string]any, error) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(marshalled, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}
