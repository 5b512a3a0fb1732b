package events

import (
	"time"
)

const (
	// EventMaxSize is the wire ceiling for messages produced by the event logger.
	EventMaxSize = 1024

	CurrentVersion = "1.0"
)

type EventType string

const (
	EventTypeCreated      EventType = "created"
	EventTypeManufactured EventType = "manufactured"
	EventTypeShipped      EventType = "shipped"
	EventTypeReceived     EventType = "received"
	EventTypeInspected    EventType = "inspected"
	EventTypeCertified    EventType = "certified"
	EventTypeSold         EventType = "sold"
	EventTypeRecycled     EventType = "recycled"
	EventTypeTransferred  EventType = "transferred"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypeCreated:      {},
	EventTypeManufactured: {},
	EventTypeShipped:      {},
	EventTypeReceived:     {},
	EventTypeInspected:    {},
	EventTypeCertified:    {},
	EventTypeSold:         {},
	EventTypeRecycled:     {},
	EventTypeTransferred:  {},
}

func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

func (t EventType) String() string {
	return string(t)
}

type (
	// LedgerEvent is a single tamper-evident fact about a physical product, as logged to a ledger topic.
	LedgerEvent struct {
		Version         string         `json:"version"`
		ProductID       string         `json:"productId"`
		EventType       EventType      `json:"eventType"`
		Timestamp       time.Time      `json:"timestamp"`
		Actor           Actor          `json:"actor"`
		Location        Location       `json:"location"`
		EventData       map[string]any `json:"eventData,omitempty"`
		PreviousEventID *string        `json:"previousEventId,omitempty"`
		Signature       string         `json:"signature"`
	}

	Actor struct {
		WalletAddress string  `json:"walletAddress"`
		Role          string  `json:"role"`
		OrgID         *string `json:"orgId,omitempty"`
	}

	Location struct {
		Coordinates Coordinates `json:"coordinates"`
		Address     string      `json:"address"`
		Region      string      `json:"region"`
	}

	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
)

var _ SignedMessage = (*LedgerEvent)(nil)

func (e LedgerEvent) GetSignature() string {
	return e.Signature
}

func (e LedgerEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

func (e LedgerEvent) SignerAddress() string {
	return e.Actor.WalletAddress
}

// WithSignature returns a copy of the event carrying the given signature. Event data is shared with the receiver.
func (e LedgerEvent) WithSignature(signature string) LedgerEvent {
	e.Signature = signature
	return e
}
