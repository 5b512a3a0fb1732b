// Package ledger submits canonical messages to topics on the consensus ledger, and listens for new messages on a
// topic.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"strings"
)

type (
	// Network is the ledger's submit and subscribe API.
	Network interface {
		// Submit appends data to the topic, returning once the ledger has ordered it.
		Submit(ctx context.Context, topicID string, data []byte) (NetworkReceipt, error)
		// Subscribe invokes onData with the raw bytes of every message subsequently ordered on the topic. onError
		// receives failures that do not end the subscription, such as a dropped connection.
		Subscribe(topicID string, onData func([]byte), onError func(error)) (unsubscribe func(), err error)
	}

	NetworkReceipt struct {
		TransactionID  string
		SequenceNumber *int64
	}
)

// ErrRejected is wrapped by ledger rejections that do not map onto a more specific error.
var ErrRejected = errors.New("ledger rejected message")

// ClassifyRejection maps the reason given by the ledger for rejecting a message onto the error taxonomy, so that the
// retry manager can tell transient rejections from permanent ones.
func ClassifyRejection(reason string) error {
	lower := strings.ToLower(reason)

	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"), strings.Contains(lower, "mempool is full"):
		return fmt.Errorf("%w: %s", errs.ErrRateLimitExceeded, reason)
	case strings.Contains(lower, "unknown topic"), strings.Contains(lower, "topic not found"):
		return fmt.Errorf("%w: %s", errs.ErrNotFound, reason)
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "not permitted"):
		return fmt.Errorf("%w: %s", errs.ErrUnauthorized, reason)
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return fmt.Errorf("%w: %s", errs.ErrNetworkTimeout, reason)
	case strings.Contains(lower, "too large"):
		return fmt.Errorf("%w: %s", errs.ErrSizeExceeded, reason)
	default:
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
}
