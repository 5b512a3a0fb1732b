package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/types/events"
	"strconv"
	"strings"
	"time"
)

// DecodeEnvelope parses a generic topic envelope. Every structural problem is reported in the returned error, which
// wraps errs.ErrMalformedMessage.
func DecodeEnvelope(data []byte) (events.Envelope, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return events.Envelope{}, err
	}

	var p problems
	p.requireString(raw, "version")
	p.requireString(raw, "productId")
	p.requireString(raw, "signature")
	p.requireTimestamp(raw, "timestamp")

	if messageType, ok := p.requireString(raw, "messageType"); ok && !events.MessageType(messageType).Known() {
		p.add("unknown messageType %q", messageType)
	}

	if payload, ok := raw["payload"]; ok && payload != nil {
		if _, isObject := payload.(map[string]any); !isObject {
			p.add("payload must be an object")
		}
	}

	if metadata, ok := p.requireObject(raw, "metadata"); ok {
		p.requireStringAt(metadata, "metadata.topicId", "topicId")

		if network, ok := metadata["network"]; ok {
			if _, isString := network.(string); !isString {
				p.add("metadata.network must be a string")
			}
		}

		p.requireSequenceNumber(metadata)
	}

	if err := p.err(); err != nil {
		return events.Envelope{}, err
	}

	var envelope events.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return events.Envelope{}, fmt.Errorf("%w: %s", errs.ErrMalformedMessage, err.Error())
	}

	if envelope.Payload != nil {
		reviveDates(envelope.Payload)
	}

	return envelope, nil
}

// DecodeEvent parses a message produced by the event logger.
func DecodeEvent(data []byte) (events.LedgerEvent, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return events.LedgerEvent{}, err
	}

	var p problems
	p.requireString(raw, "version")
	p.requireString(raw, "productId")
	p.requireString(raw, "signature")
	p.requireTimestamp(raw, "timestamp")

	if eventType, ok := p.requireString(raw, "eventType"); ok && !events.EventType(eventType).Known() {
		p.add("unknown eventType %q", eventType)
	}

	if actor, ok := p.requireObject(raw, "actor"); ok {
		p.requireStringAt(actor, "actor.walletAddress", "walletAddress")
		p.requireStringAt(actor, "actor.role", "role")
	}

	if location, ok := p.requireObject(raw, "location"); ok {
		if coordinates, ok := location["coordinates"].(map[string]any); ok {
			for _, axis := range []string{"latitude", "longitude"} {
				if _, isNumber := coordinates[axis].(json.Number); !isNumber {
					p.add("location.coordinates.%s must be a number", axis)
				}
			}
		} else {
			p.add("missing location.coordinates")
		}
	}

	if eventData, ok := raw["eventData"]; ok && eventData != nil {
		if _, isObject := eventData.(map[string]any); !isObject {
			p.add("eventData must be an object")
		}
	}

	if previous, ok := raw["previousEventId"]; ok && previous != nil {
		if s, isString := previous.(string); !isString || s == "" {
			p.add("previousEventId must be a non-empty string")
		}
	}

	if err := p.err(); err != nil {
		return events.LedgerEvent{}, err
	}

	var event events.LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return events.LedgerEvent{}, fmt.Errorf("%w: %s", errs.ErrMalformedMessage, err.Error())
	}

	if event.EventData != nil {
		reviveDates(event.EventData)
	}

	return event, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrMalformedMessage, err.Error())
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: message is not an object", errs.ErrMalformedMessage)
	}

	return raw, nil
}

type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) err() error {
	if len(*p) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", errs.ErrMalformedMessage, strings.Join(*p, "; "))
}

func (p *problems) requireString(raw map[string]any, key string) (string, bool) {
	return p.requireStringAt(raw, key, key)
}

func (p *problems) requireStringAt(raw map[string]any, path, key string) (string, bool) {
	value, ok := raw[key]
	if !ok || value == nil {
		p.add("missing %s", path)
		return "", false
	}

	s, ok := value.(string)
	if !ok {
		p.add("%s must be a string", path)
		return "", false
	}

	if s == "" {
		p.add("missing %s", path)
		return "", false
	}

	return s, true
}

func (p *problems) requireObject(raw map[string]any, key string) (map[string]any, bool) {
	value, ok := raw[key]
	if !ok || value == nil {
		p.add("missing %s", key)
		return nil, false
	}

	object, ok := value.(map[string]any)
	if !ok {
		p.add("%s must be an object", key)
		return nil, false
	}

	return object, true
}

func (p *problems) requireTimestamp(raw map[string]any, key string) {
	s, ok := p.requireString(raw, key)
	if !ok {
		return
	}

	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		p.add("%s must be an RFC 3339 timestamp", key)
	}
}

func (p *problems) requireSequenceNumber(metadata map[string]any) {
	value, ok := metadata["sequenceNumber"]
	if !ok || value == nil {
		p.add("missing metadata.sequenceNumber")
		return
	}

	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case json.Number:
		raw = v.String()
	default:
		p.add("metadata.sequenceNumber must be an integer")
		return
	}

	sequence, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.add("metadata.sequenceNumber must be an integer")
		return
	}

	if sequence < 0 {
		p.add("metadata.sequenceNumber must not be negative")
	}
}
