// Package mirror confirms ledger writes through the independent mirror service, and audits sequences of events read
// back from it for tampering.
package mirror

import (
	"context"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"go.uber.org/zap"
	"time"
)

type (
	// MessageSource is the subset of the mirror API used by the Service.
	MessageSource interface {
		GetTopicMessages(ctx context.Context, topicID string, q MessageQuery) ([]TopicMessage, error)
	}

	// ConfirmationRecorder is notified of the outcome of every wait for confirmation.
	ConfirmationRecorder interface {
		RecordConfirmation(duration time.Duration, confirmed bool)
		RecordTampering()
	}

	Service struct {
		logger   *zap.Logger
		source   MessageSource
		retry    *retry.Manager
		clock    Clock
		recorder ConfirmationRecorder
		config   ServiceConfig
	}

	ServiceConfig struct {
		DefaultTopicID string
		DefaultLimit   int
		QueryTimeout   time.Duration
		PollInterval   time.Duration
		// PollLimit is the number of most recent messages inspected on each confirmation poll.
		PollLimit int
	}

	QueryConfig struct {
		TopicID   string
		Limit     int
		StartTime *time.Time
		EndTime   *time.Time
		Timeout   time.Duration
	}

	QueryResult struct {
		Found    bool             `json:"found"`
		Events   []ConfirmedEvent `json:"events"`
		Metadata QueryMetadata    `json:"metadata"`
	}

	QueryMetadata struct {
		QueryTime    time.Duration `json:"queryTime"`
		MessageCount int           `json:"messageCount"`
		Within30s    bool          `json:"within30s"`
		Warnings     []string      `json:"warnings"`
	}

	// ConfirmedEvent is an event as read back from the mirror, with the position the ledger assigned to it.
	ConfirmedEvent struct {
		ID                 string             `json:"id"`
		Event              events.LedgerEvent `json:"event"`
		TopicID            string             `json:"topicId"`
		SequenceNumber     int64              `json:"sequenceNumber"`
		ConsensusTimestamp time.Time          `json:"consensusTimestamp"`
		PayerAccountID     string             `json:"payerAccountId"`
		RunningHash        string             `json:"runningHash"`
	}
)

// ConfirmationSLA is the bound within which a write must be visible on the read path.
const ConfirmationSLA = 30 * time.Second

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultLimit: 100,
		QueryTimeout: 10 * time.Second,
		PollInterval: time.Second,
		PollLimit:    25,
	}
}

func NewService(logger *zap.Logger, source MessageSource, retryManager *retry.Manager, clock Clock, recorder ConfirmationRecorder, config ServiceConfig) *Service {
	if clock == nil {
		clock = RealClock()
	}

	return &Service{
		logger:   logger,
		source:   source,
		retry:    retryManager,
		clock:    clock,
		recorder: recorder,
		config:   config,
	}
}

// GetEventsForProduct reads the most recent messages on the topic and returns the events about the product, newest
// first. Messages that cannot be decoded are skipped, and reported as warnings.
func (s *Service) GetEventsForProduct(ctx context.Context, productID string, cfg QueryConfig) (QueryResult, error) {
	started := s.clock.Now()

	topicID := cfg.TopicID
	if topicID == "" {
		topicID = s.config.DefaultTopicID
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = s.config.QueryTimeout
	}

	rc := s.retry.Context("mirror_query").
		WithTimeout(timeout).
		WithMetadata("topic_id", topicID).
		WithMetadata("product_id", productID)

	messages, err := retry.Do(ctx, s.retry, rc, func(ctx context.Context) ([]TopicMessage, error) {
		return s.source.GetTopicMessages(ctx, topicID, MessageQuery{
			Limit:     limit,
			StartTime: cfg.StartTime,
			EndTime:   cfg.EndTime,
		})
	})
	if err != nil {
		return QueryResult{}, err
	}

	confirmed, warnings := s.decodeMessages(messages)

	result := QueryResult{
		Events: make([]ConfirmedEvent, 0),
		Metadata: QueryMetadata{
			MessageCount: len(messages),
			Warnings:     warnings,
		},
	}

	for _, event := range confirmed {
		if event.Event.ProductID == productID {
			result.Events = append(result.Events, event)
		}
	}

	result.Found = len(result.Events) > 0
	result.Metadata.QueryTime = s.clock.Now().Sub(started)
	result.Metadata.Within30s = result.Metadata.QueryTime <= ConfirmationSLA

	if !result.Metadata.Within30s {
		s.logger.Warn("Mirror query exceeded confirmation SLA",
			zap.String("product_id", productID),
			zap.Duration("query_time", result.Metadata.QueryTime),
		)
	}

	return result, nil
}

// WaitForConfirmation polls the mirror until an event matching eventID appears on the topic, or timeout elapses.
// Query errors are logged and the poll is retried on the next tick; only the deadline ends the wait early.
func (s *Service) WaitForConfirmation(ctx context.Context, eventID, topicID string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = ConfirmationSLA
	}

	if topicID == "" {
		topicID = s.config.DefaultTopicID
	}

	started := s.clock.Now()
	deadline := started.Add(timeout)
	logger := s.logger.With(zap.String("event_id", eventID), zap.String("topic_id", topicID))

	for polls := 1; ; polls++ {
		if s.poll(ctx, logger, eventID, topicID, deadline) {
			s.recordConfirmation(s.clock.Now().Sub(started), true)
			logger.Debug("Event confirmed on mirror", zap.Int("polls", polls))
			return true
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			break
		}

		wait := s.config.PollInterval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			logger.Debug("Confirmation wait cancelled", zap.Error(ctx.Err()))
			s.recordConfirmation(s.clock.Now().Sub(started), false)
			return false
		case <-s.clock.After(wait):
		}
	}

	logger.Warn("Event was not confirmed before the deadline", zap.Duration("timeout", timeout))
	s.recordConfirmation(s.clock.Now().Sub(started), false)
	return false
}

func (s *Service) poll(ctx context.Context, logger *zap.Logger, eventID, topicID string, deadline time.Time) bool {
	timeout := deadline.Sub(s.clock.Now())
	if s.config.QueryTimeout > 0 && s.config.QueryTimeout < timeout {
		timeout = s.config.QueryTimeout
	}

	if timeout <= 0 {
		timeout = time.Millisecond
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages, err := s.source.GetTopicMessages(pollCtx, topicID, MessageQuery{Limit: s.config.PollLimit})
	if err != nil {
		logger.Debug("Confirmation poll failed", zap.Error(err))
		return false
	}

	for _, message := range messages {
		if fmt.Sprintf("%s@%d", message.TopicID, message.SequenceNumber) == eventID {
			return true
		}
	}

	confirmed, _ := s.decodeMessages(messages)
	for _, event := range confirmed {
		if event.Matches(eventID) {
			return true
		}
	}

	return false
}

// Matches reports whether id identifies the event, either by content, by an explicit eventId in the event data, or
// by its ledger position as topic@sequence.
func (e ConfirmedEvent) Matches(id string) bool {
	if id == "" {
		return false
	}

	if e.ID == id || fmt.Sprintf("%s@%d", e.TopicID, e.SequenceNumber) == id {
		return true
	}

	explicit, ok := e.Event.EventData["eventId"].(string)
	return ok && explicit == id
}

func (s *Service) decodeMessages(messages []TopicMessage) ([]ConfirmedEvent, []string) {
	confirmed := make([]ConfirmedEvent, 0, len(messages))
	var warnings []string

	for _, message := range messages {
		event, err := decodeMessage(message)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped message %s@%d: %s", message.TopicID, message.SequenceNumber, err.Error()))
			continue
		}

		confirmed = append(confirmed, event)
	}

	return confirmed, warnings
}

func decodeMessage(message TopicMessage) (ConfirmedEvent, error) {
	body, err := message.Body()
	if err != nil {
		return ConfirmedEvent{}, fmt.Errorf("message is not base64: %w", err)
	}

	event, err := codec.DecodeEvent(body)
	if err != nil {
		return ConfirmedEvent{}, err
	}

	id, err := codec.EventID(event)
	if err != nil {
		return ConfirmedEvent{}, err
	}

	consensusTimestamp, err := message.Timestamp()
	if err != nil {
		return ConfirmedEvent{}, err
	}

	return ConfirmedEvent{
		ID:                 id,
		Event:              event,
		TopicID:            message.TopicID,
		SequenceNumber:     message.SequenceNumber,
		ConsensusTimestamp: consensusTimestamp,
		PayerAccountID:     message.PayerAccountID,
		RunningHash:        message.RunningHash,
	}, nil
}

func (s *Service) recordConfirmation(duration time.Duration, confirmed bool) {
	if s.recorder != nil {
		s.recorder.RecordConfirmation(duration, confirmed)
	}
}
