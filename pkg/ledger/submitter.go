package ledger

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"time"
)

type (
	Receipt struct {
		TransactionID  string    `json:"transactionId"`
		TopicID        string    `json:"topicId"`
		SequenceNumber *int64    `json:"sequenceNumber,omitempty"`
		SubmittedAt    time.Time `json:"submittedAt"`
		MessageSize    int       `json:"messageSize"`
	}

	// SubmissionRecorder is notified of the outcome of every submission.
	SubmissionRecorder interface {
		RecordLedgerSubmission(topic string, size int, err error)
	}

	Submitter struct {
		logger         *zap.Logger
		network        Network
		retry          *retry.Manager
		limiter        *rate.Limiter
		recorder       SubmissionRecorder
		tracer         trace.Tracer
		attemptTimeout time.Duration
	}

	SubmitterOption func(*Submitter)
)

// WithRateLimit paces submissions client-side, so that bursts stay below the ledger's own rate limit.
func WithRateLimit(limit rate.Limit, burst int) SubmitterOption {
	return func(s *Submitter) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithRecorder(recorder SubmissionRecorder) SubmitterOption {
	return func(s *Submitter) {
		s.recorder = recorder
	}
}

// WithAttemptTimeout bounds each individual network submission.
func WithAttemptTimeout(timeout time.Duration) SubmitterOption {
	return func(s *Submitter) {
		s.attemptTimeout = timeout
	}
}

func NewSubmitter(logger *zap.Logger, network Network, retryManager *retry.Manager, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		logger:         logger,
		network:        network,
		retry:          retryManager,
		tracer:         otel.Tracer("github.com/RyanW02/supplytrail/pkg/ledger"),
		attemptTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit serializes message and submits it to the topic. Oversized and unsigned messages are rejected before any
// network call is made.
func (s *Submitter) Submit(ctx context.Context, topicID string, message any, opts codec.Options) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Submit", trace.WithAttributes(attribute.String("ledger.topic_id", topicID)))
	defer span.End()

	receipt, size, err := s.submit(ctx, topicID, message, opts)
	if s.recorder != nil {
		s.recorder.RecordLedgerSubmission(topicID, size, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, err
	}

	span.SetAttributes(attribute.String("ledger.transaction_id", receipt.TransactionID), attribute.Int("ledger.message_size", size))
	return receipt, nil
}

func (s *Submitter) submit(ctx context.Context, topicID string, message any, opts codec.Options) (Receipt, int, error) {
	if topicID == "" {
		return Receipt{}, 0, fmt.Errorf("%w: topic id is required", errs.ErrValidationFailed)
	}

	if signed, ok := message.(events.SignedMessage); ok && signed.GetSignature() == "" {
		return Receipt{}, 0, fmt.Errorf("%w: message is not signed", errs.ErrValidationFailed)
	}

	serialized, err := codec.Serialize(message, opts)
	if err != nil {
		return Receipt{}, 0, err
	}

	rc := s.retry.Context("ledger_submit").
		WithTimeout(s.attemptTimeout).
		WithMetadata("topic_id", topicID).
		WithMetadata("message_size", serialized.Size)

	networkReceipt, err := retry.Do(ctx, s.retry, rc, func(ctx context.Context) (NetworkReceipt, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return NetworkReceipt{}, err
				}

				return NetworkReceipt{}, fmt.Errorf("%w: %s", errs.ErrRateLimitExceeded, err.Error())
			}
		}

		return s.network.Submit(ctx, topicID, serialized.Data)
	})
	if err != nil {
		return Receipt{}, serialized.Size, err
	}

	s.logger.Debug("Submitted message to ledger",
		zap.String("topic_id", topicID),
		zap.String("transaction_id", networkReceipt.TransactionID),
		zap.Int("size", serialized.Size),
	)

	return Receipt{
		TransactionID:  networkReceipt.TransactionID,
		TopicID:        topicID,
		SequenceNumber: networkReceipt.SequenceNumber,
		SubmittedAt:    time.Now().UTC(),
		MessageSize:    serialized.Size,
	}, serialized.Size, nil
}

// SubmitEnvelope submits a generic envelope to the topic named in its metadata, under the envelope size ceiling.
func (s *Submitter) SubmitEnvelope(ctx context.Context, envelope events.Envelope) (Receipt, error) {
	return s.Submit(ctx, envelope.Metadata.TopicID, envelope, codec.DefaultOptions())
}

// SubmitEvent submits a ledger event under the event logger's size ceiling.
func (s *Submitter) SubmitEvent(ctx context.Context, topicID string, event events.LedgerEvent) (Receipt, error) {
	return s.Submit(ctx, topicID, event, codec.EventOptions())
}

// Subscribe invokes onMessage for every envelope subsequently submitted to the topic. Messages that cannot be
// decoded are passed to onError, and the subscription carries on.
func (s *Submitter) Subscribe(topicID string, onMessage func(events.Envelope), onError func(error)) (func(), error) {
	if onError == nil {
		onError = func(err error) {
			s.logger.Warn("Subscription error", zap.String("topic_id", topicID), zap.Error(err))
		}
	}

	return s.network.Subscribe(topicID, func(data []byte) {
		envelope, err := codec.DecodeEnvelope(data)
		if err != nil {
			onError(err)
			return
		}

		if envelope.Metadata.TopicID != topicID {
			onError(fmt.Errorf("%w: message addressed to topic %s received on %s", errs.ErrMalformedMessage, envelope.Metadata.TopicID, topicID))
			return
		}

		onMessage(envelope)
	}, onError)
}
