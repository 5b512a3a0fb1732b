// Package credential issues, verifies and revokes compliance credentials, and validates them against a registry of
// rules.
package credential

import (
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"go.uber.org/zap"
	"math"
	"sync"
	"time"
)

type (
	// Rule is a named predicate over a credential. A required rule that fails makes the credential invalid; an
	// optional rule that fails only produces a warning.
	Rule struct {
		ID          string
		Name        string
		Description string
		Required    bool
		// Message is reported when the rule returns false.
		Message  string
		Validate func(credential credentials.Credential) (bool, error)
	}

	Validator struct {
		logger *zap.Logger
		now    func() time.Time

		mu    sync.RWMutex
		rules []Rule
		index map[string]int
	}
)

var ErrInvalidRule = errors.New("invalid rule")

const (
	requiredWeight = 80
	optionalWeight = 20
)

// NewValidator creates a validator with no rules registered.
func NewValidator(logger *zap.Logger, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}

	return &Validator{
		logger: logger,
		now:    now,
		index:  make(map[string]int),
	}
}

// Register adds a rule to the end of the registry, or replaces the rule with the same ID in place.
func (v *Validator) Register(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule has no id", ErrInvalidRule)
	}

	if rule.Validate == nil {
		return fmt.Errorf("%w: rule %s has no predicate", ErrInvalidRule, rule.ID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if i, ok := v.index[rule.ID]; ok {
		v.rules[i] = rule
		return nil
	}

	v.index[rule.ID] = len(v.rules)
	v.rules = append(v.rules, rule)
	return nil
}

// Unregister removes a rule, reporting whether it was registered.
func (v *Validator) Unregister(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	i, ok := v.index[id]
	if !ok {
		return false
	}

	v.rules = append(v.rules[:i], v.rules[i+1:]...)

	delete(v.index, id)
	for j := i; j < len(v.rules); j++ {
		v.index[v.rules[j].ID] = j
	}

	return true
}

// Rules returns the registered rules in registration order.
func (v *Validator) Rules() []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return append([]Rule(nil), v.rules...)
}

// Validate runs every rule against the credential. A rule that errors or panics counts as failed, and never stops
// the remaining rules from running.
func (v *Validator) Validate(credential credentials.Credential) credentials.ValidationResult {
	rules := v.Rules()

	result := credentials.ValidationResult{
		PassedRuleIDs: make([]string, 0, len(rules)),
		FailedRuleIDs: make([]string, 0),
		Errors:        make([]string, 0),
		Warnings:      make([]string, 0),
	}

	var totalRequired, passedRequired, totalOptional, passedOptional int
	for _, rule := range rules {
		if rule.Required {
			totalRequired++
		} else {
			totalOptional++
		}

		passed, err := v.run(rule, credential.Clone())
		if passed && err == nil {
			result.PassedRuleIDs = append(result.PassedRuleIDs, rule.ID)

			if rule.Required {
				passedRequired++
			} else {
				passedOptional++
			}

			continue
		}

		result.FailedRuleIDs = append(result.FailedRuleIDs, rule.ID)

		message := rule.Message
		if err != nil {
			message = fmt.Sprintf("%s: %s", rule.Name, err.Error())
		} else if message == "" {
			message = fmt.Sprintf("%s failed", rule.Name)
		}

		if rule.Required {
			result.Errors = append(result.Errors, message)
		} else {
			result.Warnings = append(result.Warnings, message)
		}
	}

	result.Score = Score(passedRequired, totalRequired, passedOptional, totalOptional)
	result.IsValid = len(result.Errors) == 0 && passedRequired == totalRequired

	return result
}

func (v *Validator) run(rule Rule, credential credentials.Credential) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Validation rule panicked", zap.String("rule_id", rule.ID), zap.Any("panic", r))
			passed, err = false, fmt.Errorf("rule panicked: %v", r)
		}
	}()

	return rule.Validate(credential)
}

// Score weights required rules at 80 points and optional rules at 20. A class with no rules contributes its full
// weight.
func Score(passedRequired, totalRequired, passedOptional, totalOptional int) int {
	requiredScore := float64(requiredWeight)
	if totalRequired > 0 {
		requiredScore = requiredWeight * float64(passedRequired) / float64(totalRequired)
	}

	optionalScore := float64(optionalWeight)
	if totalOptional > 0 {
		optionalScore = optionalWeight * float64(passedOptional) / float64(totalOptional)
	}

	return int(math.Round(requiredScore + optionalScore))
}
