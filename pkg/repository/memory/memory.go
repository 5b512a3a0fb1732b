// Package memory provides a Repository held entirely in process memory, for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"sort"
	"sync"
	"time"
)

type (
	Repository struct {
		credentials *CredentialRepository
		timeline    *TimelineRepository
	}

	CredentialRepository struct {
		mu    sync.RWMutex
		byId  map[string]credentials.Credential
		order []string
	}

	TimelineRepository struct {
		mu      sync.RWMutex
		entries map[string][]credentials.TimelineEntry
	}
)

var (
	_ repository.Repository           = (*Repository)(nil)
	_ repository.CredentialRepository = (*CredentialRepository)(nil)
	_ repository.TimelineRepository   = (*TimelineRepository)(nil)
)

func NewRepository() *Repository {
	return &Repository{
		credentials: &CredentialRepository{byId: make(map[string]credentials.Credential)},
		timeline:    &TimelineRepository{entries: make(map[string][]credentials.TimelineEntry)},
	}
}

func (r *Repository) Credentials() repository.CredentialRepository {
	return r.credentials
}

func (r *Repository) Timeline() repository.TimelineRepository {
	return r.timeline
}

func (r *Repository) TestConnection(context.Context) error {
	return nil
}

func (r *CredentialRepository) Create(_ context.Context, credential credentials.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byId[credential.ID]; ok {
		return repository.ErrCredentialAlreadyStored
	}

	r.byId[credential.ID] = credential.Clone()
	r.order = append(r.order, credential.ID)
	return nil
}

func (r *CredentialRepository) FindByID(_ context.Context, id string) (credentials.Credential, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	credential, ok := r.byId[id]
	if !ok {
		return credentials.Credential{}, false, nil
	}

	return credential.Clone(), true, nil
}

func (r *CredentialRepository) Search(_ context.Context, params repository.SearchParams) (repository.SearchResult, error) {
	params, err := params.Normalise()
	if err != nil {
		return repository.SearchResult{}, err
	}

	r.mu.RLock()
	var matched []credentials.Credential
	for _, id := range r.order {
		if credential := r.byId[id]; params.Matches(credential) {
			matched = append(matched, credential.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := sortKey(matched[i], params.Sort), sortKey(matched[j], params.Sort)
		if params.Order == repository.OrderDescending {
			return b.Before(a)
		}

		return a.Before(b)
	})

	start := min(params.Page*params.Limit, len(matched))
	end := min(start+params.Limit, len(matched))

	return repository.NewSearchResult(matched[start:end], len(matched), params), nil
}

// Credentials that never expire sort after all others.
func sortKey(credential credentials.Credential, field repository.SortField) time.Time {
	if field == repository.SortExpiresAt {
		if credential.ExpiresAt == nil {
			return time.Unix(1<<62, 0)
		}

		return *credential.ExpiresAt
	}

	return credential.IssuedAt
}

func (r *CredentialRepository) UpdateStatus(_ context.Context, id string, status credentials.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	credential, ok := r.byId[id]
	if !ok {
		return fmt.Errorf("%w: credential %s", errs.ErrNotFound, id)
	}

	credential.Status = status
	r.byId[id] = credential
	return nil
}

func (r *CredentialRepository) CountByProductID(_ context.Context, productID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int
	for _, credential := range r.byId {
		if credential.ProductID == productID {
			count++
		}
	}

	return count, nil
}

func (r *CredentialRepository) FindExpiringBefore(_ context.Context, before time.Time, limit int) ([]credentials.Credential, error) {
	r.mu.RLock()
	var found []credentials.Credential
	for _, id := range r.order {
		credential := r.byId[id]
		if credential.ExpiresAt != nil && !credential.Status.Terminal() && credential.ExpiresAt.Before(before) {
			found = append(found, credential.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ExpiresAt.Before(*found[j].ExpiresAt)
	})

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	return found, nil
}

func (r *TimelineRepository) AddTimelineEntry(_ context.Context, entry credentials.TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.CredentialID] = append(r.entries[entry.CredentialID], entry)
	return nil
}

func (r *TimelineRepository) GetTimeline(_ context.Context, credentialID string) ([]credentials.TimelineEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]credentials.TimelineEntry{}, r.entries[credentialID]...), nil
}
