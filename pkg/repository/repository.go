package repository

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"time"
)

type Repository interface {
	Credentials() CredentialRepository
	Timeline() TimelineRepository
	TestConnection(ctx context.Context) error
}

type CredentialRepository interface {
	Create(ctx context.Context, credential credentials.Credential) error
	// FindByID returns false if no credential with the given ID exists.
	FindByID(ctx context.Context, id string) (credentials.Credential, bool, error)
	Search(ctx context.Context, params SearchParams) (SearchResult, error)
	// UpdateStatus returns an error wrapping errs.ErrNotFound if no credential with the given ID exists.
	UpdateStatus(ctx context.Context, id string, status credentials.Status) error
	CountByProductID(ctx context.Context, productID string) (int, error)
	// FindExpiringBefore returns the non-terminal credentials whose expiry date lies before the given time, soonest
	// first.
	FindExpiringBefore(ctx context.Context, before time.Time, limit int) ([]credentials.Credential, error)
}

// TimelineRepository stores the lifecycle history of credentials.
type TimelineRepository interface {
	AddTimelineEntry(ctx context.Context, entry credentials.TimelineEntry) error
	GetTimeline(ctx context.Context, credentialID string) ([]credentials.TimelineEntry, error)
}
