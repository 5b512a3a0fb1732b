// Package signature signs and verifies the signing payloads produced by the codec package using Ed25519, with
// signatures carried as lowercase hex.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/codec"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"strings"
)

// MinSignatureLength is the minimum length of a well-formed hex signature.
const MinSignatureLength = ed25519.SignatureSize * 2

var (
	publicKeyDerPrefix  = mustDecodeHex("302a300506032b6570032100")
	privateKeyDerPrefix = mustDecodeHex("302e020100300506032b657004220420")
)

// verifyFunc is swapped out in tests to observe whether cryptographic verification was attempted.
var verifyFunc = ed25519.Verify

type Signer struct {
	key ed25519.PrivateKey
}

func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{key: key}
}

// NewSignerFromHex accepts a 32 byte seed, a 64 byte private key, or a DER encoded (PKCS#8) seed, hex encoded.
func NewSignerFromHex(encoded string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}

	if len(raw) == len(privateKeyDerPrefix)+ed25519.SeedSize && hasPrefix(raw, privateKeyDerPrefix) {
		raw = raw[len(privateKeyDerPrefix):]
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return NewSigner(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		return NewSigner(raw), nil
	default:
		return nil, fmt.Errorf("private key has invalid length %d", len(raw))
	}
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.PublicKey())
}

// Sign signs the given signing payload, returning the signature as hex.
func (s *Signer) Sign(payload string) (string, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: signer has no private key", errs.ErrValidationFailed)
	}

	return hex.EncodeToString(ed25519.Sign(s.key, []byte(payload))), nil
}

// SignMessage computes the signing payload of message and signs it.
func (s *Signer) SignMessage(message any) (string, error) {
	payload, err := codec.SigningPayload(message)
	if err != nil {
		return "", err
	}

	return s.Sign(payload)
}

// CheckFormat rejects signatures that are not hex or are shorter than MinSignatureLength.
func CheckFormat(signature string) error {
	if len(signature) < MinSignatureLength {
		return fmt.Errorf("%w: expected at least %d hex characters, got %d", errs.ErrSignatureFormatInvalid, MinSignatureLength, len(signature))
	}

	if _, err := hex.DecodeString(signature); err != nil {
		return fmt.Errorf("%w: signature is not hex", errs.ErrSignatureFormatInvalid)
	}

	return nil
}

// Verify reports whether signature is a valid signature of payload by publicKey. Malformed signatures are rejected
// before any cryptographic work is done.
func Verify(payload, signature string, publicKey ed25519.PublicKey) bool {
	if CheckFormat(signature) != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}

	raw, err := hex.DecodeString(signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}

	return verifyFunc(publicKey, []byte(payload), raw)
}

// ParsePublicKey accepts a raw 32 byte key or a DER (SubjectPublicKeyInfo) encoded key, hex encoded.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex", errs.ErrValidationFailed)
	}

	if len(raw) == len(publicKeyDerPrefix)+ed25519.PublicKeySize && hasPrefix(raw, publicKeyDerPrefix) {
		raw = raw[len(publicKeyDerPrefix):]
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key has invalid length %d", errs.ErrValidationFailed, len(raw))
	}

	return raw, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}

	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}

	return true
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}
