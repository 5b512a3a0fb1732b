package events

import "time"

// SignedMessage is implemented by every message that carries a signature over its own signing payload.
type SignedMessage interface {
	GetSignature() string
	GetTimestamp() time.Time
	SignerAddress() string
}
