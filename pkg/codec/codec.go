// Package codec produces the canonical wire form of ledger messages, and decodes messages read back from the
// ledger or the mirror with exhaustive structural validation.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"github.com/gowebpki/jcs"
	"math/big"
	"strings"
	"time"
)

type (
	Options struct {
		// MaxSize is the wire ceiling in bytes. Zero selects events.EnvelopeMaxSize.
		MaxSize         int
		IncludeMetadata bool
	}

	Serialized struct {
		Data      []byte
		Size      int
		Timestamp time.Time
	}
)

const (
	fieldSignature      = "signature"
	fieldMetadata       = "metadata"
	fieldSequenceNumber = "sequenceNumber"
)

func DefaultOptions() Options {
	return Options{
		MaxSize:         events.EnvelopeMaxSize,
		IncludeMetadata: true,
	}
}

// EventOptions are the options used for messages produced by the event logger.
func EventOptions() Options {
	return Options{
		MaxSize:         events.EventMaxSize,
		IncludeMetadata: true,
	}
}

func (o Options) maxSize() int {
	if o.MaxSize <= 0 {
		return events.EnvelopeMaxSize
	}

	return o.MaxSize
}

// Serialize encodes message as canonical JSON (RFC 8785), with all temporal values in UTC RFC 3339 form. Messages
// larger than the configured ceiling are rejected with errs.ErrSizeExceeded, and are never truncated.
func Serialize(message any, opts Options) (Serialized, error) {
	generic, err := toGeneric(message)
	if err != nil {
		return Serialized{}, err
	}

	if !opts.IncludeMetadata {
		delete(generic, fieldMetadata)
	}

	data, err := canonicalize(generic)
	if err != nil {
		return Serialized{}, err
	}

	if len(data) > opts.maxSize() {
		return Serialized{}, fmt.Errorf("%w: %d bytes exceeds the limit of %d bytes", errs.ErrSizeExceeded, len(data), opts.maxSize())
	}

	return Serialized{
		Data:      data,
		Size:      len(data),
		Timestamp: time.Now().UTC(),
	}, nil
}

// SigningPayload returns the exact string that is signed, and later re-verified, for message. The signature is
// removed, as is the ledger-assigned sequence number, which is not known at signing time.
func SigningPayload(message any) (string, error) {
	generic, err := toGeneric(message)
	if err != nil {
		return "", err
	}

	delete(generic, fieldSignature)
	if metadata, ok := generic[fieldMetadata].(map[string]any); ok {
		delete(metadata, fieldSequenceNumber)
	}

	data, err := canonicalize(generic)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// EventID is the content-derived identifier of an event: the hex encoded SHA-256 digest of its signing payload.
// previousEventId references are expressed in terms of this identifier.
func EventID(event events.LedgerEvent) (string, error) {
	payload, err := SigningPayload(event)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:]), nil
}

func toGeneric(message any) (map[string]any, error) {
	marshalled, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(marshalled))
	decoder.UseNumber()

	var generic map[string]any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: message must encode to a JSON object", errs.ErrMalformedMessage)
	}

	if generic == nil {
		return nil, fmt.Errorf("%w: message must encode to a JSON object", errs.ErrMalformedMessage)
	}

	normaliseDates(generic)
	stringifyLargeIntegers(generic)
	return generic, nil
}

func canonicalize(generic map[string]any) ([]byte, error) {
	marshalled, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	data, err := jcs.Transform(marshalled)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize message: %w", err)
	}

	return data, nil
}

func isDateKey(key string) bool {
	return key == "timestamp" || (len(key) > 2 && strings.HasSuffix(key, "At"))
}

// normaliseDates rewrites date-valued fields into UTC, so that the same instant always has the same encoding.
func normaliseDates(value any) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if s, ok := child.(string); ok && isDateKey(key) {
				if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
					v[key] = parsed.UTC().Format(time.RFC3339Nano)
				}

				continue
			}

			normaliseDates(child)
		}
	case []any:
		for _, child := range v {
			normaliseDates(child)
		}
	}
}

// maxSafeInteger is the largest integer that survives a round trip through an IEEE 754 double, which is how
// canonical JSON represents every number.
var maxSafeInteger = big.NewInt(1<<53 - 1)

// stringifyLargeIntegers replaces integers that a double cannot hold exactly with their decimal string form.
func stringifyLargeIntegers(value any) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if n, ok := child.(json.Number); ok {
				if s, large := largeInteger(n); large {
					v[key] = s
				}

				continue
			}

			stringifyLargeIntegers(child)
		}
	case []any:
		for i, child := range v {
			if n, ok := child.(json.Number); ok {
				if s, large := largeInteger(n); large {
					v[i] = s
				}

				continue
			}

			stringifyLargeIntegers(child)
		}
	}
}

func largeInteger(n json.Number) (string, bool) {
	if strings.ContainsAny(n.String(), ".eE") {
		return "", false
	}

	parsed, ok := new(big.Int).SetString(n.String(), 10)
	if !ok || parsed.CmpAbs(maxSafeInteger) <= 0 {
		return "", false
	}

	return parsed.String(), true
}

// reviveDates converts date-valued string fields in free-form maps back into time.Time.
func reviveDates(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if s, ok := child.(string); ok && isDateKey(key) {
				if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
					v[key] = parsed
				}

				continue
			}

			v[key] = reviveDates(child)
		}
	case []any:
		for i, child := range v {
			v[i] = reviveDates(child)
		}
	}

	return value
}
