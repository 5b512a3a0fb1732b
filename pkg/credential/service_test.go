package credential

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/cache"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/ledger"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/repository/memory"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/signature"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/RyanW02/supplytrail/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

type fakeAudit struct {
	mu        sync.Mutex
	envelopes []events.Envelope
	err       error
}

func (a *fakeAudit) SubmitEnvelope(_ context.Context, envelope events.Envelope) (ledger.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return ledger.Receipt{}, a.err
	}

	a.envelopes = append(a.envelopes, envelope)
	sequence := int64(len(a.envelopes))

	return ledger.Receipt{
		TransactionID:  fmt.Sprintf("0.0.1234@1715679000.%09d", sequence),
		TopicID:        envelope.Metadata.TopicID,
		SequenceNumber: &sequence,
	}, nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions := make([]string, len(a.envelopes))
	for i, envelope := range a.envelopes {
		actions[i], _ = envelope.Payload["action"].(string)
	}

	return actions
}

type operationRecorder struct {
	mu         sync.Mutex
	operations []string
	errs       []error
}

func (r *operationRecorder) RecordCredentialOperation(operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.operations = append(r.operations, operation)
	r.errs = append(r.errs, err)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
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

type harness struct {
	service  *Service
	repo     *memory.Repository
	audit    *fakeAudit
	recorder *operationRecorder
	clock    *testClock
	signer   *signature.Signer
}

func newHarness(t *testing.T, configure ...func(*Config)) *harness {
	t.Helper()

	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	h := &harness{
		repo:     memory.NewRepository(),
		audit:    &fakeAudit{},
		recorder: &operationRecorder{},
		clock:    &testClock{now: baseTime},
		signer:   signature.NewSigner(key),
	}

	config := DefaultConfig()
	config.IssuerID = trustedIssuer
	config.SigningKey = []byte("server-held-secret")
	config.Network = "testnet"
	config.TopicID = "0.0.111"
	config.VerificationUrl = "https://verify.example.com/credentials/"

	for _, fn := range configure {
		fn(&config)
	}

	manager := retry.NewManager("credential", zap.NewNop(), retry.WithTimer(func() backoff.Timer {
		return &instantTimer{c: make(chan time.Time, 1)}
	}))

	h.service = NewService(
		zap.NewNop(),
		config,
		h.repo,
		NewDefaultValidator(zap.NewNop(), []string{trustedIssuer}, h.clock.Now),
		h.audit,
		h.signer,
		manager,
		cache.NewMemoryStore(),
		time.Hour,
		WithRecorder(h.recorder),
		WithClock(h.clock.Now),
	)

	return h
}

func issueRequest() IssueRequest {
	return IssueRequest{
		ProductID:         "CT-2024-001-ABC123",
		CredentialType:    "organic",
		ComplianceRules:   []string{"eu-organic-2018-848"},
		ValidationDetails: map[string]any{"inspector": "jane"},
		VerificationLevel: "standard",
	}
}

func TestIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	credential := res.Credential
	require.NotEmpty(t, credential.ID)
	require.Equal(t, credentials.StatusIssued, credential.Status)
	require.Equal(t, trustedIssuer, credential.Issuer)
	require.Equal(t, baseTime, credential.IssuedAt)
	require.Equal(t, baseTime.Add(365*24*time.Hour), *credential.ExpiresAt)
	require.Equal(t, "0.0.111@1", credential.LedgerMessageID)
	require.Equal(t, res.LedgerReceipt.TransactionID, *credential.TransactionID)
	require.Equal(t, 100, *credential.Metadata.Score)
	require.True(t, VerifySignature(credential, []byte("server-held-secret")))
	require.Contains(t, res.QRPayload, `"verificationUrl":"https://verify.example.com/credentials/`+credential.ID+`"`)

	stored, ok, err := h.repo.Credentials().FindByID(ctx, credential.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, credential, stored)

	// the audit envelope is signed by the service's key
	require.Equal(t, []string{"issued"}, h.audit.actions())
	envelope := h.audit.envelopes[0]
	require.Equal(t, events.MessageTypeComplianceCheck, envelope.MessageType)
	payload, err := codec.SigningPayload(envelope)
	require.NoError(t, err)
	require.True(t, signature.Verify(payload, envelope.Signature, h.signer.PublicKey()))

	timeline, err := h.repo.Timeline().GetTimeline(ctx, credential.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, credentials.ActionIssued, timeline[0].Action)

	require.Equal(t, []string{OperationIssue}, h.recorder.operations)
	require.Equal(t, []error{nil}, h.recorder.errs)
}

func TestIssueWithoutComplianceRulesSucceedsButIsInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := issueRequest()
	req.ComplianceRules = nil

	res, err := h.service.Issue(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "CT-2024-001-ABC123", res.Credential.ProductID)

	result, err := h.service.Validate(ctx, res.Credential.ID)
	require.NoError(t, err)
	require.False(t, result.IsValid)
	require.Equal(t, []string{"No compliance rules specified"}, result.Errors)
	require.Less(t, result.Score, 80)
}

func TestIssueRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	missingProduct := issueRequest()
	missingProduct.ProductID = ""

	badLevel := issueRequest()
	badLevel.VerificationLevel = "extreme"

	pastExpiry := issueRequest()
	pastExpiry.ExpiresAt = utils.Ptr(baseTime.Add(-time.Hour))

	conflicting := issueRequest()
	conflicting.ExpiresAt = utils.Ptr(baseTime.Add(time.Hour))
	conflicting.NeverExpires = true

	for _, req := range []IssueRequest{missingProduct, badLevel, pastExpiry, conflicting} {
		_, err := h.service.Issue(ctx, req)
		require.ErrorIs(t, err, errs.ErrValidationFailed)
	}

	require.Empty(t, h.audit.actions())
	require.Len(t, h.recorder.errs, 4)
	require.Error(t, h.recorder.errs[0])
}

func TestIssueExpiryOverrides(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	custom := issueRequest()
	custom.ExpiresAt = utils.Ptr(baseTime.Add(90 * 24 * time.Hour))

	res, err := h.service.Issue(ctx, custom)
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(90*24*time.Hour), *res.Credential.ExpiresAt)

	never := issueRequest()
	never.NeverExpires = true

	res, err = h.service.Issue(ctx, never)
	require.NoError(t, err)
	require.Nil(t, res.Credential.ExpiresAt)
}

func TestIssueEnforcesPerProductLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxCredentialsPerProduct = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.service.Issue(ctx, issueRequest())
		require.NoError(t, err)
	}

	_, err := h.service.Issue(ctx, issueRequest())
	require.ErrorIs(t, err, errs.ErrLimitExceeded)
	require.Len(t, h.audit.actions(), 2)

	other := issueRequest()
	other.ProductID = "CT-2024-002-XYZ789"
	_, err = h.service.Issue(ctx, other)
	require.NoError(t, err)
}

func TestIssueLimitHoldsUnderConcurrency(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxCredentialsPerProduct = 3
	})
	ctx := context.Background()

	const attempts = 20

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := h.service.Issue(ctx, issueRequest())
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var issued, limited int
	for err := range results {
		if err == nil {
			issued++
		} else if errors.Is(err, errs.ErrLimitExceeded) {
			limited++
		}
	}

	require.Equal(t, 3, issued)
	require.Equal(t, attempts-3, limited)

	count, err := h.repo.Credentials().CountByProductID(ctx, "CT-2024-001-ABC123")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Zero(t, h.service.issuing.size())
}

func TestIssueFailsWhenLedgerRejects(t *testing.T) {
	h := newHarness(t)
	h.audit.err = fmt.Errorf("%w: topic 0.0.111", errs.ErrUnauthorized)

	_, err := h.service.Issue(context.Background(), issueRequest())
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	result, err := h.repo.Credentials().Search(context.Background(), repository.SearchParams{})
	require.NoError(t, err)
	require.Zero(t, result.TotalCount)

	require.ErrorIs(t, h.recorder.errs[0], errs.ErrUnauthorized)
}

func TestVerifyValidCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	res, err := h.service.Verify(ctx, credentials.VerificationRequest{
		CredentialID:     issued.Credential.ID,
		VerifyBlockchain: utils.Ptr(true),
	})
	require.NoError(t, err)
	require.True(t, res.IsValid)
	require.Nil(t, res.Error)
	require.True(t, res.Verification.SignatureValid)
	require.True(t, *res.Verification.BlockchainValid)
	require.Equal(t, baseTime, res.Verification.VerifiedAt)
	require.Equal(t, issued.Credential.ID, res.Credential.ID)

	require.Equal(t, []string{"issued", "verified"}, h.audit.actions())
}

func TestVerifyNotFound(t *testing.T) {
	h := newHarness(t)

	res, err := h.service.Verify(context.Background(), credentials.VerificationRequest{CredentialID: "missing"})
	require.NoError(t, err)
	require.False(t, res.IsValid)
	require.Equal(t, credentials.CodeNotFound, res.Error.Code)
	require.Nil(t, res.Credential)

	res, err = h.service.Verify(context.Background(), credentials.VerificationRequest{})
	require.NoError(t, err)
	require.Equal(t, credentials.CodeVerificationFailed, res.Error.Code)
}

func TestVerifyExpiresLazily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := issueRequest()
	req.ExpiresAt = utils.Ptr(baseTime.Add(24 * time.Hour))

	issued, err := h.service.Issue(ctx, req)
	require.NoError(t, err)

	// cache the credential, so that the transition must invalidate it
	res, err := h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: issued.Credential.ID})
	require.NoError(t, err)
	require.True(t, res.IsValid)

	h.clock.Advance(25 * time.Hour)

	res, err = h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: issued.Credential.ID})
	require.NoError(t, err)
	require.False(t, res.IsValid)
	require.False(t, res.Verification.NotExpired)
	require.Equal(t, credentials.CodeExpired, res.Error.Code)
	require.Equal(t, credentials.StatusExpired, res.Credential.Status)

	stored, _, err := h.repo.Credentials().FindByID(ctx, issued.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, credentials.StatusExpired, stored.Status)

	timeline, err := h.repo.Timeline().GetTimeline(ctx, issued.Credential.ID)
	require.NoError(t, err)

	var actions []credentials.Action
	for _, entry := range timeline {
		actions = append(actions, entry.Action)
	}
	require.Equal(t, []credentials.Action{credentials.ActionIssued, credentials.ActionVerified, credentials.ActionExpired, credentials.ActionVerified}, actions)
}

func TestVerifyErrorPriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tampered := validCredential()
	tampered.ID = "tampered"
	tampered.Status = credentials.StatusIssued
	require.NoError(t, h.repo.Credentials().Create(ctx, tampered))

	res, err := h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: "tampered"})
	require.NoError(t, err)
	require.False(t, res.IsValid)
	require.Equal(t, credentials.CodeInvalidSignature, res.Error.Code)

	res, err = h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: "tampered", VerifySignature: utils.Ptr(false)})
	require.NoError(t, err)
	require.True(t, res.IsValid)

	unlogged := validCredential()
	unlogged.ID = "unlogged"
	unlogged.LedgerMessageID = ""
	unlogged.Signature, err = Sign(unlogged, []byte("server-held-secret"))
	require.NoError(t, err)
	require.NoError(t, h.repo.Credentials().Create(ctx, unlogged))

	res, err = h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: "unlogged", VerifyBlockchain: utils.Ptr(true)})
	require.NoError(t, err)
	require.Equal(t, credentials.CodeBlockchainFailed, res.Error.Code)

	revokedAndExpired := tampered
	revokedAndExpired.ID = "revoked-and-expired"
	revokedAndExpired.Status = credentials.StatusRevoked
	revokedAndExpired.ExpiresAt = utils.Ptr(baseTime.Add(-time.Hour))
	require.NoError(t, h.repo.Credentials().Create(ctx, revokedAndExpired))

	res, err = h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: "revoked-and-expired"})
	require.NoError(t, err)
	require.Equal(t, credentials.CodeExpired, res.Error.Code)
	require.False(t, res.Verification.NotRevoked)
	require.Equal(t, credentials.StatusRevoked, res.Credential.Status)
}

func TestRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	// populate the cache
	_, err = h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: issued.Credential.ID})
	require.NoError(t, err)

	revoked, err := h.service.Revoke(ctx, issued.Credential.ID, "product recalled")
	require.NoError(t, err)
	require.Equal(t, credentials.StatusRevoked, revoked.Status)

	res, err := h.service.Verify(ctx, credentials.VerificationRequest{CredentialID: issued.Credential.ID})
	require.NoError(t, err)
	require.Equal(t, credentials.CodeRevoked, res.Error.Code)

	_, err = h.service.Revoke(ctx, issued.Credential.ID, "again")
	require.ErrorIs(t, err, ErrAlreadyRevoked)
	require.False(t, errs.IsRetryable(err))

	_, err = h.service.Revoke(ctx, "missing", "product recalled")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = h.service.Revoke(ctx, issued.Credential.ID, "  ")
	require.ErrorIs(t, err, errs.ErrValidationFailed)

	require.Equal(t, []string{"issued", "verified", "revoked", "verified"}, h.audit.actions())
	require.Equal(t, "product recalled", h.audit.envelopes[2].Payload["reason"])
}

func TestRevokeFailsWhenLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	h.audit.err = errors.New("connection refused")

	_, err = h.service.Revoke(ctx, issued.Credential.ID, "product recalled")
	require.Error(t, err)

	stored, _, err := h.repo.Credentials().FindByID(ctx, issued.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, credentials.StatusIssued, stored.Status)
}

func TestSearchIsCachedPerProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	params := repository.SearchParams{ProductID: utils.Ptr("CT-2024-001-ABC123")}

	result, err := h.service.Search(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)

	// a write behind the service's back is not visible until the product's entries are invalidated
	extra := validCredential()
	extra.ID = "direct"
	require.NoError(t, h.repo.Credentials().Create(ctx, extra))

	result, err = h.service.Search(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)

	_, err = h.service.Issue(ctx, issueRequest())
	require.NoError(t, err)

	result, err = h.service.Search(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalCount)

	_, err = h.service.Search(ctx, repository.SearchParams{Sort: "score"})
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}

func TestSearchReportsExpiredCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := issueRequest()
	req.ExpiresAt = utils.Ptr(baseTime.Add(time.Hour))
	issued, err := h.service.Issue(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)

	result, err := h.service.Search(ctx, repository.SearchParams{})
	require.NoError(t, err)
	require.Equal(t, credentials.StatusExpired, result.Items[0].Status)

	stored, _, err := h.repo.Credentials().FindByID(ctx, issued.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, credentials.StatusIssued, stored.Status)
}

func TestValidateUnknownCredential(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Validate(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
