package ledger

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/RyanW02/supplytrail/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeNetwork struct {
	mu        sync.Mutex
	submitted [][]byte
	failures  []error
	onData    func([]byte)
	onError   func(error)
}

func (n *fakeNetwork) Submit(_ context.Context, _ string, data []byte) (NetworkReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.submitted = append(n.submitted, data)
	if len(n.failures) > 0 {
		err := n.failures[0]
		n.failures = n.failures[1:]
		return NetworkReceipt{}, err
	}

	return NetworkReceipt{
		TransactionID:  "0.0.1234@1700000000.000000001",
		SequenceNumber: utils.Ptr(int64(len(n.submitted))),
	}, nil
}

func (n *fakeNetwork) Subscribe(_ string, onData func([]byte), onError func(error)) (func(), error) {
	n.onData = onData
	n.onError = onError
	return func() {}, nil
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

type submissionRecorder struct {
	errs []error
}

func (r *submissionRecorder) RecordLedgerSubmission(_ string, _ int, err error) {
	r.errs = append(r.errs, err)
}

func newSubmitter(network Network, opts ...SubmitterOption) *Submitter {
	manager := retry.NewManager("ledger", zap.NewNop(), retry.WithTimer(func() backoff.Timer {
		return &instantTimer{c: make(chan time.Time, 1)}
	}))

	return NewSubmitter(zap.NewNop(), network, manager, opts...)
}

func signedEnvelope() events.Envelope {
	return events.Envelope{
		Version:     events.CurrentVersion,
		MessageType: events.MessageTypeEvent,
		ProductID:   "CT-2024-001-ABC123",
		Payload:     map[string]any{"signer": "0.0.1234"},
		Signature:   strings.Repeat("ab", 64),
		Timestamp:   time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC),
		Metadata:    events.Metadata{Network: "testnet", TopicID: "0.0.111"},
	}
}

func TestSubmitEnvelope(t *testing.T) {
	network := &fakeNetwork{}
	recorder := &submissionRecorder{}
	s := newSubmitter(network, WithRecorder(recorder))

	receipt, err := s.SubmitEnvelope(context.Background(), signedEnvelope())
	require.NoError(t, err)

	require.Equal(t, "0.0.111", receipt.TopicID)
	require.Equal(t, int64(1), *receipt.SequenceNumber)
	require.Equal(t, len(network.submitted[0]), receipt.MessageSize)
	require.Equal(t, []error{nil}, recorder.errs)

	decoded, err := codec.DecodeEnvelope(network.submitted[0])
	require.NoError(t, err)
	require.Equal(t, "CT-2024-001-ABC123", decoded.ProductID)
}

func TestOversizedMessageNeverReachesNetwork(t *testing.T) {
	network := &fakeNetwork{}
	recorder := &submissionRecorder{}
	s := newSubmitter(network, WithRecorder(recorder))

	env := signedEnvelope()
	env.Payload["blob"] = strings.Repeat("x", events.EnvelopeMaxSize)

	_, err := s.SubmitEnvelope(context.Background(), env)
	require.ErrorIs(t, err, errs.ErrSizeExceeded)
	require.Empty(t, network.submitted)
	require.Len(t, recorder.errs, 1)
	require.ErrorIs(t, recorder.errs[0], errs.ErrSizeExceeded)

	ev := events.LedgerEvent{
		Version:   events.CurrentVersion,
		ProductID: "CT-2024-001-ABC123",
		EventType: events.EventTypeShipped,
		EventData: map[string]any{"blob": strings.Repeat("x", events.EventMaxSize)},
		Signature: strings.Repeat("ab", 64),
	}

	_, err = s.SubmitEvent(context.Background(), "0.0.111", ev)
	require.ErrorIs(t, err, errs.ErrSizeExceeded)
	require.Empty(t, network.submitted)
}

func TestUnsignedMessageIsRejected(t *testing.T) {
	network := &fakeNetwork{}
	s := newSubmitter(network)

	env := signedEnvelope()
	env.Signature = ""

	_, err := s.SubmitEnvelope(context.Background(), env)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
	require.Empty(t, network.submitted)
}

func TestTransientRejectionsAreRetried(t *testing.T) {
	network := &fakeNetwork{failures: []error{
		ClassifyRejection("rate limit exceeded for account"),
		ClassifyRejection("mempool is full"),
	}}
	s := newSubmitter(network)

	receipt, err := s.SubmitEnvelope(context.Background(), signedEnvelope())
	require.NoError(t, err)
	require.Len(t, network.submitted, 3)
	require.Equal(t, int64(3), *receipt.SequenceNumber)
}

func TestPermanentRejectionIsNotRetried(t *testing.T) {
	network := &fakeNetwork{failures: []error{ClassifyRejection("unknown topic 0.0.111")}}
	s := newSubmitter(network)

	_, err := s.SubmitEnvelope(context.Background(), signedEnvelope())
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NotErrorIs(t, err, errs.ErrRetryExhausted)
	require.Len(t, network.submitted, 1)
}

func TestSubscribeRoutesDecodeFailures(t *testing.T) {
	network := &fakeNetwork{}
	s := newSubmitter(network)

	var received []events.Envelope
	var failures []error

	_, err := s.Subscribe("0.0.111", func(env events.Envelope) {
		received = append(received, env)
	}, func(err error) {
		failures = append(failures, err)
	})
	require.NoError(t, err)

	serialized, err := codec.Serialize(signedEnvelope(), codec.DefaultOptions())
	require.NoError(t, err)

	network.onData([]byte("not json"))
	network.onData(serialized.Data)

	other := signedEnvelope()
	other.Metadata.TopicID = "0.0.222"
	serializedOther, err := codec.Serialize(other, codec.DefaultOptions())
	require.NoError(t, err)
	network.onData(serializedOther.Data)

	require.Len(t, received, 1)
	require.Equal(t, "CT-2024-001-ABC123", received[0].ProductID)

	require.Len(t, failures, 2)
	for _, failure := range failures {
		require.ErrorIs(t, failure, errs.ErrMalformedMessage)
	}
}

func TestClassifyRejection(t *testing.T) {
	for reason, expected := range map[string]error{
		"Rate limit exceeded":       errs.ErrRateLimitExceeded,
		"unknown topic 0.0.1":       errs.ErrNotFound,
		"account is unauthorized":   errs.ErrUnauthorized,
		"timed out waiting for tx":  errs.ErrNetworkTimeout,
		"tx too large":              errs.ErrSizeExceeded,
		"something else went wrong": ErrRejected,
	} {
		require.ErrorIs(t, ClassifyRejection(reason), expected, reason)
	}

	require.True(t, errs.IsRetryable(ClassifyRejection("rate limit exceeded")))
	require.False(t, errs.IsRetryable(ClassifyRejection("unknown topic")))
}
