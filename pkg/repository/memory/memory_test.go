package memory

import (
	"context"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/RyanW02/supplytrail/pkg/utils"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

func newCredential(id, productID string, issuedAt time.Time, expiresAt *time.Time) credentials.Credential {
	return credentials.Credential{
		ID:             id,
		ProductID:      productID,
		Issuer:         "issuer-a",
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
		Status:         credentials.StatusIssued,
		CredentialType: "organic",
		Metadata: credentials.Metadata{
			ComplianceRules: []string{"eu-organic"},
		},
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository().Credentials()

	original := newCredential("cred-1", "CT-2024-001-ABC123", baseTime, nil)
	require.NoError(t, repo.Create(ctx, original))
	require.ErrorIs(t, repo.Create(ctx, original), repository.ErrCredentialAlreadyStored)

	found, ok, err := repo.FindByID(ctx, "cred-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, original, found)

	// mutating the result must not change the stored copy
	found.Metadata.ComplianceRules[0] = "changed"
	again, _, _ := repo.FindByID(ctx, "cred-1")
	require.Equal(t, "eu-organic", again.Metadata.ComplianceRules[0])

	_, ok, err = repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository().Credentials()

	require.NoError(t, repo.Create(ctx, newCredential("cred-1", "CT-2024-001-ABC123", baseTime, nil)))
	require.NoError(t, repo.UpdateStatus(ctx, "cred-1", credentials.StatusRevoked))

	found, _, _ := repo.FindByID(ctx, "cred-1")
	require.Equal(t, credentials.StatusRevoked, found.Status)

	require.ErrorIs(t, repo.UpdateStatus(ctx, "missing", credentials.StatusRevoked), errs.ErrNotFound)
}

func TestSearchSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository().Credentials()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newCredential(fmt.Sprintf("cred-%d", i), "CT-2024-001-ABC123", baseTime.Add(time.Duration(i)*time.Hour), nil)))
	}
	require.NoError(t, repo.Create(ctx, newCredential("other", "OTHER", baseTime, nil)))

	result, err := repo.Search(ctx, repository.SearchParams{ProductID: utils.Ptr("CT-2024-001-ABC123"), Limit: 2, Page: 1})
	require.NoError(t, err)
	require.Equal(t, 5, result.TotalCount)
	require.Equal(t, 3, result.Pagination.TotalPages)
	require.Len(t, result.Items, 2)
	require.Equal(t, "cred-2", result.Items[0].ID)
	require.Equal(t, "cred-1", result.Items[1].ID)

	result, err = repo.Search(ctx, repository.SearchParams{Order: repository.OrderAscending, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 6, result.TotalCount)
	require.Equal(t, baseTime, result.Items[0].IssuedAt)

	result, err = repo.Search(ctx, repository.SearchParams{Page: 10})
	require.NoError(t, err)
	require.Empty(t, result.Items)

	_, err = repo.Search(ctx, repository.SearchParams{Sort: "score"})
	require.ErrorIs(t, err, repository.ErrInvalidFilter)
}

func TestCountAndExpiring(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository().Credentials()

	soon := newCredential("soon", "CT-2024-001-ABC123", baseTime, utils.Ptr(baseTime.Add(24*time.Hour)))
	later := newCredential("later", "CT-2024-001-ABC123", baseTime, utils.Ptr(baseTime.Add(48*time.Hour)))
	revoked := newCredential("revoked", "CT-2024-001-ABC123", baseTime, utils.Ptr(baseTime.Add(time.Hour)))
	revoked.Status = credentials.StatusRevoked
	never := newCredential("never", "OTHER", baseTime, nil)

	for _, c := range []credentials.Credential{later, soon, revoked, never} {
		require.NoError(t, repo.Create(ctx, c))
	}

	count, err := repo.CountByProductID(ctx, "CT-2024-001-ABC123")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	expiring, err := repo.FindExpiringBefore(ctx, baseTime.Add(72*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	require.Equal(t, "soon", expiring[0].ID)
	require.Equal(t, "later", expiring[1].ID)

	expiring, err = repo.FindExpiringBefore(ctx, baseTime.Add(72*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
}

func TestTimeline(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository().Timeline()

	require.NoError(t, repo.AddTimelineEntry(ctx, credentials.TimelineEntry{CredentialID: "cred-1", Action: credentials.ActionIssued, Timestamp: baseTime}))
	require.NoError(t, repo.AddTimelineEntry(ctx, credentials.TimelineEntry{CredentialID: "cred-1", Action: credentials.ActionRevoked, Timestamp: baseTime.Add(time.Hour)}))

	timeline, err := repo.GetTimeline(ctx, "cred-1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, credentials.ActionRevoked, timeline[1].Action)

	timeline, err = repo.GetTimeline(ctx, "cred-2")
	require.NoError(t, err)
	require.Empty(t, timeline)
}
