package credential

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/cache"
	"github.com/RyanW02/supplytrail/pkg/ledger"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

type (
	// AuditLog receives the signed audit envelopes describing credential lifecycle changes.
	AuditLog interface {
		SubmitEnvelope(ctx context.Context, envelope events.Envelope) (ledger.Receipt, error)
	}

	// EnvelopeSigner signs audit envelopes before they are submitted.
	EnvelopeSigner interface {
		SignMessage(message any) (string, error)
	}

	OperationRecorder interface {
		RecordCredentialOperation(operation string, duration time.Duration, err error)
	}

	Config struct {
		// IssuerID identifies this service as the issuer of the credentials it creates.
		IssuerID string
		// SigningKey is the server-held secret used to sign credentials.
		SigningKey               []byte
		DefaultExpiration        time.Duration
		MaxCredentialsPerProduct int
		Network                  string
		TopicID                  string
		// VerificationUrl is embedded in QR payloads, so that scanners know where to verify the credential.
		VerificationUrl string

		IssueTimeout  time.Duration
		VerifyTimeout time.Duration
		RevokeTimeout time.Duration
	}

	Service struct {
		logger    *zap.Logger
		config    Config
		repo      repository.Repository
		validator *Validator
		audit     AuditLog
		signer    EnvelopeSigner
		retry     *retry.Manager
		cache     *cache.Typed[credentials.Credential]
		searches  *cache.Typed[repository.SearchResult]
		recorder  OperationRecorder
		tracer    trace.Tracer
		validate  *validator.Validate
		issuing   *productLocks
		now       func() time.Time
	}

	ServiceOption func(*Service)
)

var ErrAlreadyRevoked = errors.New("credential already revoked: invalid state transition")

const (
	OperationIssue    = "issue"
	OperationVerify   = "verify"
	OperationRevoke   = "revoke"
	OperationSearch   = "search"
	OperationValidate = "validate"
)

func DefaultConfig() Config {
	return Config{
		DefaultExpiration:        365 * 24 * time.Hour,
		MaxCredentialsPerProduct: 50,
		IssueTimeout:             60 * time.Second,
		VerifyTimeout:            30 * time.Second,
		RevokeTimeout:            15 * time.Second,
	}
}

func WithRecorder(recorder OperationRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithClock overrides the time source, which is otherwise time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	logger *zap.Logger,
	config Config,
	repo repository.Repository,
	rules *Validator,
	audit AuditLog,
	signer EnvelopeSigner,
	retryManager *retry.Manager,
	store cache.Store,
	cacheTtl time.Duration,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		logger:    logger,
		config:    config,
		repo:      repo,
		validator: rules,
		audit:     audit,
		signer:    signer,
		retry:     retryManager,
		cache:     cache.NewTyped[credentials.Credential](store, logger, cacheTtl),
		searches:  cache.NewTyped[repository.SearchResult](store, logger, cacheTtl),
		tracer:    otel.Tracer("github.com/RyanW02/supplytrail/pkg/credential"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		issuing:   newProductLocks(),
		now:       time.Now,
	}

	defaults := DefaultConfig()
	if s.config.IssueTimeout <= 0 {
		s.config.IssueTimeout = defaults.IssueTimeout
	}

	if s.config.VerifyTimeout <= 0 {
		s.config.VerifyTimeout = defaults.VerifyTimeout
	}

	if s.config.RevokeTimeout <= 0 {
		s.config.RevokeTimeout = defaults.RevokeTimeout
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Validator() *Validator {
	return s.validator
}

func credentialKey(id string) string {
	return fmt.Sprintf("credential:%s", id)
}

func productPrefix(productID string) string {
	return fmt.Sprintf("product:%s:", productID)
}

// startOperation opens a span for the operation, and returns a function that closes it and records the outcome.
func (s *Service) startOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "credential."+operation, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s.recorder != nil {
			s.recorder.RecordCredentialOperation(operation, s.now().Sub(started), err)
		}
	}
}

func (s *Service) invalidate(ctx context.Context, credential credentials.Credential) {
	s.cache.Remove(ctx, credentialKey(credential.ID))
	s.searches.ClearPattern(ctx, productPrefix(credential.ProductID))
}

// load reads a credential, from the cache if possible.
func (s *Service) load(ctx context.Context, id string, useCache bool) (credentials.Credential, bool, error) {
	if useCache {
		if cached, ok := s.cache.Get(ctx, credentialKey(id)); ok {
			return cached, true, nil
		}
	}

	rc := s.retry.Context("credential_find").WithMetadata("credential_id", id)

	type found struct {
		credential credentials.Credential
		ok         bool
	}

	res, err := retry.Do(ctx, s.retry, rc, func(ctx context.Context) (found, error) {
		credential, ok, err := s.repo.Credentials().FindByID(ctx, id)
		return found{credential, ok}, err
	})
	if err != nil {
		return credentials.Credential{}, false, err
	}

	if res.ok {
		s.cache.Set(ctx, credentialKey(id), res.credential)
	}

	return res.credential, res.ok, nil
}

// expireIfDue moves an issued or active credential past its expiry date to the expired state, persisting the
// transition.
func (s *Service) expireIfDue(ctx context.Context, credential credentials.Credential) (credentials.Credential, error) {
	now := s.now()
	if credential.Status.Terminal() || !credential.IsExpired(now) {
		return credential, nil
	}

	rc := s.retry.Context("credential_update_status").WithMetadata("credential_id", credential.ID)
	if err := s.retry.Execute(ctx, rc, func(ctx context.Context) error {
		return s.repo.Credentials().UpdateStatus(ctx, credential.ID, credentials.StatusExpired)
	}); err != nil {
		return credential, err
	}

	s.logger.Info("Credential expired",
		zap.String("credential_id", credential.ID),
		zap.String("product_id", credential.ProductID),
		zap.Timep("expires_at", credential.ExpiresAt),
	)

	credential.Status = credentials.StatusExpired
	s.addTimelineEntry(ctx, credential, credentials.ActionExpired, s.config.IssuerID, "", nil)
	s.invalidate(ctx, credential)

	return credential, nil
}

// addTimelineEntry records a lifecycle transition. Timeline entries are history for display only, so a failure is
// logged rather than failing the operation.
func (s *Service) addTimelineEntry(ctx context.Context, credential credentials.Credential, action credentials.Action, actor, reason string, details map[string]any) {
	entry := credentials.TimelineEntry{
		CredentialID: credential.ID,
		ProductID:    credential.ProductID,
		Action:       action,
		Actor:        actor,
		Reason:       reason,
		Details:      details,
		Timestamp:    s.now().UTC(),
	}

	rc := s.retry.Context("credential_timeline").WithMetadata("credential_id", credential.ID)
	if err := s.retry.Execute(ctx, rc, func(ctx context.Context) error {
		return s.repo.Timeline().AddTimelineEntry(ctx, entry)
	}); err != nil {
		s.logger.Warn("Failed to record credential timeline entry",
			zap.String("credential_id", credential.ID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

// submitAudit signs and submits a compliance_check envelope describing an action on the credential.
func (s *Service) submitAudit(ctx context.Context, credential credentials.Credential, action credentials.Action, details map[string]any) (ledger.Receipt, error) {
	payload := map[string]any{
		"action":         string(action),
		"credentialId":   credential.ID,
		"credentialType": credential.CredentialType,
		"issuer":         credential.Issuer,
		"status":         string(credential.Status),
		"signer":         s.config.IssuerID,
	}

	for k, v := range details {
		payload[k] = v
	}

	envelope := events.Envelope{
		Version:     events.CurrentVersion,
		MessageType: events.MessageTypeComplianceCheck,
		ProductID:   credential.ProductID,
		Payload:     payload,
		Timestamp:   s.now().UTC(),
		Metadata: events.Metadata{
			Network: s.config.Network,
			TopicID: s.config.TopicID,
		},
	}

	sig, err := s.signer.SignMessage(envelope)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to sign audit envelope: %w", err)
	}

	envelope.Signature = sig
	return s.audit.SubmitEnvelope(ctx, envelope)
}
