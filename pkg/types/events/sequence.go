package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SequenceNumber is the position assigned to a message by the ledger within its topic. It is carried as a string
// on the wire, as consumers of the mirror API cannot be assumed to hold 64-bit integers exactly.
type SequenceNumber int64

var (
	_ json.Marshaler   = (*SequenceNumber)(nil)
	_ json.Unmarshaler = (*SequenceNumber)(nil)
)

func (s SequenceNumber) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(s), 10) + `"`), nil
}

func (s *SequenceNumber) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty sequence number")
	}

	raw := string(data)
	if data[0] == '"' {
		if len(data) < 2 || data[len(data)-1] != '"' {
			return fmt.Errorf("invalid sequence number: %s", raw)
		}

		raw = raw[1 : len(raw)-1]
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid sequence number: %w", err)
	}

	*s = SequenceNumber(parsed)
	return nil
}

func (s SequenceNumber) Int64() int64 {
	return int64(s)
}
