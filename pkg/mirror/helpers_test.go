package mirror

import (
	"context"
	"encoding/base64"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"strings"
	"sync"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock immediately, so waits complete without sleeping.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fakeSource struct {
	mu       sync.Mutex
	messages []TopicMessage
	failures []error
	queries  []MessageQuery
	// onQuery is called with the number of queries made so far, before the response is built.
	onQuery func(n int)
}

func (s *fakeSource) GetTopicMessages(_ context.Context, _ string, q MessageQuery) ([]TopicMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, q)
	if s.onQuery != nil {
		s.onQuery(len(s.queries))
	}

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	return append([]TopicMessage(nil), s.messages...), nil
}

func (s *fakeSource) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type confirmationRecorder struct {
	confirmations []bool
	durations     []time.Duration
	tampering     int
}

func (r *confirmationRecorder) RecordConfirmation(duration time.Duration, confirmed bool) {
	r.confirmations = append(r.confirmations, confirmed)
	r.durations = append(r.durations, duration)
}

func (r *confirmationRecorder) RecordTampering() {
	r.tampering++
}

type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

func newTestService(source MessageSource, clock Clock, recorder ConfirmationRecorder) *Service {
	manager := retry.NewManager("mirror", zap.NewNop(), retry.WithTimer(func() backoff.Timer {
		return &instantTimer{c: make(chan time.Time, 1)}
	}))

	config := DefaultServiceConfig()
	config.DefaultTopicID = "0.0.111"

	return NewService(zap.NewNop(), source, manager, clock, recorder, config)
}

func newEvent(productID string, timestamp time.Time) events.LedgerEvent {
	return events.LedgerEvent{
		Version:   events.CurrentVersion,
		ProductID: productID,
		EventType: events.EventTypeShipped,
		Timestamp: timestamp,
		Actor: events.Actor{
			WalletAddress: "0.0.1234",
			Role:          "distributor",
		},
		Location: events.Location{
			Coordinates: events.Coordinates{Latitude: 51.5072, Longitude: -0.1276},
			Address:     "1 Dock Road",
			Region:      "GB-LND",
		},
		EventData: map[string]any{"carrier": "acme"},
		Signature: strings.Repeat("cd", 64),
	}
}

func topicMessage(t *testing.T, event events.LedgerEvent, sequence int64) TopicMessage {
	t.Helper()

	serialized, err := codec.Serialize(event, codec.EventOptions())
	require.NoError(t, err)

	return TopicMessage{
		ConsensusTimestamp: FormatConsensusTimestamp(event.Timestamp.Add(2 * time.Second)),
		Message:            base64.StdEncoding.EncodeToString(serialized.Data),
		PayerAccountID:     "0.0.1234",
		RunningHash:        "aa",
		SequenceNumber:     sequence,
		TopicID:            "0.0.111",
	}
}
