package retry

import (
	"time"
)

// Context describes how a single call is retried. It is created per call and never shared.
type Context struct {
	OperationName string
	// Timeout bounds each attempt. Zero disables the per-attempt timeout.
	Timeout           time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool
	Metadata          map[string]any
}

// Policy holds the defaults from which a Manager builds a Context.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool
}

// JitterFactor is the relative amount by which jittered delays may deviate from the computed delay.
const JitterFactor = 0.25

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		UseJitter:         true,
	}
}

// Context creates a Context for the named operation from the policy.
func (p Policy) Context(operation string) Context {
	return Context{
		OperationName:     operation,
		MaxAttempts:       p.MaxAttempts,
		BaseDelay:         p.BaseDelay,
		MaxDelay:          p.MaxDelay,
		BackoffMultiplier: p.BackoffMultiplier,
		UseJitter:         p.UseJitter,
	}
}

func (c Context) WithTimeout(timeout time.Duration) Context {
	c.Timeout = timeout
	return c
}

func (c Context) WithMetadata(key string, value any) Context {
	metadata := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		metadata[k] = v
	}

	metadata[key] = value
	c.Metadata = metadata
	return c
}

func (c Context) normalised() Context {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}

	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 1
	}

	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}

	return c
}

// Delay returns the un-jittered delay before the given retry attempt, where attempt 1 is the first retry.
func (c Context) Delay(attempt int) time.Duration {
	c = c.normalised()

	delay := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffMultiplier
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}

	return time.Duration(delay)
}
