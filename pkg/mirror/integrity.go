package mirror

import (
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/signature"
	"go.uber.org/zap"
	"slices"
	"sort"
	"time"
)

type (
	// IntegrityReport describes whether a set of events read back from the mirror is consistent. It only reports
	// problems; the events are never reordered or modified.
	IntegrityReport struct {
		Valid                 bool             `json:"valid"`
		SequenceValid         bool             `json:"sequenceValid"`
		MessageIntegrityValid bool             `json:"messageIntegrityValid"`
		TamperingDetected     bool             `json:"tamperingDetected"`
		Details               IntegrityDetails `json:"details"`
		Issues                []string         `json:"issues"`
	}

	IntegrityDetails struct {
		// ExpectedSequence is the ledger order of the events, ascending.
		ExpectedSequence []int64 `json:"expectedSequence"`
		// ActualSequence is the ledger order of the events once sorted by their own timestamps.
		ActualSequence []int64 `json:"actualSequence"`
		// MissingSequence lists positions between the first and last event that are absent from the set. Gaps are
		// expected when the set has been filtered to a single product, so they are informational only.
		MissingSequence []int64   `json:"missingSequence"`
		ValidatedAt     time.Time `json:"validatedAt"`
	}
)

// ValidateIntegrity checks the events on behalf of the service, recording any tampering that is found.
func (s *Service) ValidateIntegrity(events []ConfirmedEvent) IntegrityReport {
	report := ValidateIntegrity(events, s.clock.Now())

	if report.TamperingDetected {
		s.logger.Warn("Tampering detected in event sequence",
			zap.Int("event_count", len(events)),
			zap.Strings("issues", report.Issues),
		)

		if s.recorder != nil {
			s.recorder.RecordTampering()
		}
	}

	return report
}

// ValidateIntegrity sorts a copy of the events by timestamp and checks that:
//   - the ledger order agrees with the timestamp order;
//   - every event carries a well-formed signature;
//   - every previousEventId refers to an event in the set that does not postdate its successor.
//
// Ledger order is the sequence number, or the position in the input if any event has no sequence number.
func ValidateIntegrity(events []ConfirmedEvent, now time.Time) IntegrityReport {
	report := IntegrityReport{
		SequenceValid:         true,
		MessageIntegrityValid: true,
		Details: IntegrityDetails{
			ExpectedSequence: make([]int64, 0, len(events)),
			ActualSequence:   make([]int64, 0, len(events)),
			MissingSequence:  make([]int64, 0),
			ValidatedAt:      now,
		},
		Issues: make([]string, 0),
	}

	positions := ledgerPositions(events)

	ordered := make([]int, len(events))
	for i := range ordered {
		ordered[i] = i
	}

	// Equal timestamps are not out of order, so ties fall back to ledger order.
	sort.SliceStable(ordered, func(a, b int) bool {
		left, right := events[ordered[a]], events[ordered[b]]
		if left.Event.Timestamp.Equal(right.Event.Timestamp) {
			return positions[ordered[a]] < positions[ordered[b]]
		}

		return left.Event.Timestamp.Before(right.Event.Timestamp)
	})

	for _, i := range ordered {
		report.Details.ActualSequence = append(report.Details.ActualSequence, positions[i])
	}

	report.Details.ExpectedSequence = slices.Clone(report.Details.ActualSequence)
	slices.Sort(report.Details.ExpectedSequence)

	for i := 1; i < len(report.Details.ActualSequence); i++ {
		previous, current := report.Details.ActualSequence[i-1], report.Details.ActualSequence[i]

		if current == previous {
			report.SequenceValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("sequence number %d appears more than once", current))
		} else if current < previous {
			report.SequenceValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("sequence number %d is timestamped after sequence number %d", current, previous))
		}
	}

	for i := 1; i < len(report.Details.ExpectedSequence); i++ {
		for missing := report.Details.ExpectedSequence[i-1] + 1; missing < report.Details.ExpectedSequence[i]; missing++ {
			report.Details.MissingSequence = append(report.Details.MissingSequence, missing)
		}
	}

	for _, i := range ordered {
		event := events[i]

		if event.Event.Signature == "" {
			report.MessageIntegrityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("event at sequence %d is unsigned", positions[i]))
		} else if err := signature.CheckFormat(event.Event.Signature); err != nil {
			report.MessageIntegrityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("event at sequence %d: %s", positions[i], err.Error()))
		}

		if event.Event.PreviousEventID == nil {
			continue
		}

		previousID := *event.Event.PreviousEventID
		predecessor := slices.IndexFunc(events, func(candidate ConfirmedEvent) bool {
			return candidate.Matches(previousID)
		})

		if predecessor == -1 {
			report.MessageIntegrityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("event at sequence %d references unknown predecessor %s", positions[i], previousID))
		} else if predecessor == i {
			report.MessageIntegrityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("event at sequence %d references itself", positions[i]))
		} else if events[predecessor].Event.Timestamp.After(event.Event.Timestamp) {
			report.MessageIntegrityValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("event at sequence %d predates its predecessor %s", positions[i], previousID))
		}
	}

	report.TamperingDetected = !report.SequenceValid || !report.MessageIntegrityValid
	report.Valid = report.SequenceValid && report.MessageIntegrityValid && !report.TamperingDetected

	return report
}

func ledgerPositions(events []ConfirmedEvent) []int64 {
	positions := make([]int64, len(events))

	useIndex := false
	for _, event := range events {
		if event.SequenceNumber <= 0 {
			useIndex = true
			break
		}
	}

	for i, event := range events {
		if useIndex {
			positions[i] = int64(i + 1)
		} else {
			positions[i] = event.SequenceNumber
		}
	}

	return positions
}
