package signature

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"strings"
	"testing"
	"time"
)

var seed = strings.Repeat("07", ed25519.SeedSize)

func newSigner(t *testing.T) *Signer {
	signer, err := NewSignerFromHex(seed)
	require.NoError(t, err)
	return signer
}

func newSignedEvent(t *testing.T, signer *Signer, ts time.Time) events.LedgerEvent {
	ev := events.LedgerEvent{
		Version:   events.CurrentVersion,
		ProductID: "CT-2024-001-ABC123",
		EventType: events.EventTypeInspected,
		Timestamp: ts,
		Actor:     events.Actor{WalletAddress: "0.0.1234", Role: "inspector"},
		EventData: map[string]any{"result": "pass"},
	}

	sig, err := signer.SignMessage(ev)
	require.NoError(t, err)

	return ev.WithSignature(sig)
}

type staticResolver map[string]ed25519.PublicKey

func (r staticResolver) ResolvePublicKey(_ context.Context, accountID string) (ed25519.PublicKey, error) {
	key, ok := r[accountID]
	if !ok {
		return nil, errs.ErrNotFound
	}

	return key, nil
}

func TestSignAndVerify(t *testing.T) {
	signer := newSigner(t)

	sig, err := signer.Sign("payload")
	require.NoError(t, err)
	require.Len(t, sig, MinSignatureLength)

	require.True(t, Verify("payload", sig, signer.PublicKey()))
	require.False(t, Verify("payload!", sig, signer.PublicKey()))
}

func TestVerifyFailsFastOnMalformedSignature(t *testing.T) {
	var calls int
	verifyFunc = func(publicKey ed25519.PublicKey, message, sig []byte) bool {
		calls++
		return ed25519.Verify(publicKey, message, sig)
	}
	t.Cleanup(func() { verifyFunc = ed25519.Verify })

	signer := newSigner(t)

	require.False(t, Verify("payload", "abc", signer.PublicKey()))
	require.False(t, Verify("payload", strings.Repeat("zz", 64), signer.PublicKey()))
	require.Zero(t, calls)

	require.ErrorIs(t, CheckFormat(strings.Repeat("a", 127)), errs.ErrSignatureFormatInvalid)
	require.NoError(t, CheckFormat(strings.Repeat("a", 128)))
}

func TestParsePublicKeyForms(t *testing.T) {
	signer := newSigner(t)

	raw, err := ParsePublicKey(signer.PublicKeyHex())
	require.NoError(t, err)
	require.Equal(t, signer.PublicKey(), raw)

	der, err := ParsePublicKey("302a300506032b6570032100" + signer.PublicKeyHex())
	require.NoError(t, err)
	require.Equal(t, signer.PublicKey(), der)

	_, err = ParsePublicKey("abcd")
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}

func TestNewSignerFromDer(t *testing.T) {
	derSigner, err := NewSignerFromHex("302e020100300506032b657004220420" + seed)
	require.NoError(t, err)
	require.Equal(t, newSigner(t).PublicKey(), derSigner.PublicKey())

	_, err = NewSignerFromHex(hex.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestVerifyMessage(t *testing.T) {
	signer := newSigner(t)
	now := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

	verifier := NewVerifier(zap.NewNop(), staticResolver{"0.0.1234": signer.PublicKey()})
	verifier.now = func() time.Time { return now }

	ev := newSignedEvent(t, signer, now.Add(-time.Minute))

	t.Run("ValidWithPublicKey", func(t *testing.T) {
		res, err := verifier.VerifyMessage(context.Background(), ev, Config{PublicKey: signer.PublicKey()})
		require.NoError(t, err)
		require.True(t, res.Valid)
		require.Equal(t, "0.0.1234", res.SignerAddress)
		require.Equal(t, now, res.VerifiedAt)
	})

	t.Run("ValidWithResolvedKey", func(t *testing.T) {
		res, err := verifier.VerifyMessage(context.Background(), ev, Config{ExpectedSigner: "0.0.1234"})
		require.NoError(t, err)
		require.True(t, res.Valid)
	})

	t.Run("Tampered", func(t *testing.T) {
		tampered := ev
		tampered.ProductID = "CT-2024-001-XYZ999"

		res, err := verifier.VerifyMessage(context.Background(), tampered, Config{PublicKey: signer.PublicKey()})
		require.NoError(t, err)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Error, errs.ErrSignatureInvalid)
	})

	t.Run("Expired", func(t *testing.T) {
		res, err := verifier.VerifyMessage(context.Background(), ev, Config{PublicKey: signer.PublicKey(), MaxAge: time.Second})
		require.NoError(t, err)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Error, errs.ErrMessageExpired)

		res, err = verifier.VerifyMessage(context.Background(), ev, Config{PublicKey: signer.PublicKey(), MaxAge: time.Second, AllowExpired: true})
		require.NoError(t, err)
		require.True(t, res.Valid)
	})

	t.Run("MalformedSignature", func(t *testing.T) {
		res, err := verifier.VerifyMessage(context.Background(), ev.WithSignature("xyz"), Config{PublicKey: signer.PublicKey()})
		require.NoError(t, err)
		require.ErrorIs(t, res.Error, errs.ErrSignatureFormatInvalid)
	})

	t.Run("SignerMismatch", func(t *testing.T) {
		res, err := verifier.VerifyMessage(context.Background(), ev, Config{ExpectedSigner: "0.0.9999"})
		require.NoError(t, err)
		require.False(t, res.Valid)
		require.ErrorIs(t, res.Error, errs.ErrSignatureInvalid)
	})

	t.Run("NoKeyOrSignerIsConfigurationError", func(t *testing.T) {
		_, err := verifier.VerifyMessage(context.Background(), ev, Config{})
		require.ErrorIs(t, err, errs.ErrValidationFailed)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		env := events.Envelope{Signature: ev.Signature, Timestamp: now}
		_, err := verifier.VerifyMessage(context.Background(), env, Config{ExpectedSigner: "0.0.5"})
		require.True(t, errors.Is(err, errs.ErrNotFound))
	})
}
