package credentials

import (
	"github.com/RyanW02/supplytrail/pkg/utils"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestExpiryBoundaries(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	expired := Credential{ExpiresAt: utils.Ptr(now.Add(-time.Second))}
	require.True(t, expired.IsExpired(now))

	days, ok := expired.DaysUntilExpiration(now)
	require.True(t, ok)
	require.LessOrEqual(t, days, 0)

	month := Credential{ExpiresAt: utils.Ptr(now.Add(30 * 24 * time.Hour))}
	require.False(t, month.IsExpired(now))

	days, ok = month.DaysUntilExpiration(now)
	require.True(t, ok)
	require.Equal(t, 30, days)

	_, ok = Credential{}.DaysUntilExpiration(now)
	require.False(t, ok)
	require.False(t, Credential{}.IsExpired(now))
}

func TestCloneIsDeep(t *testing.T) {
	original := Credential{
		ID:        "cred-1",
		ExpiresAt: utils.Ptr(time.Unix(100, 0)),
		Metadata: Metadata{
			ComplianceRules:   []string{"FDA-21-CFR-11"},
			ValidationDetails: map[string]any{"inspector": "alice"},
			Score:             utils.Ptr(90),
		},
	}

	clone := original.Clone()
	clone.Metadata.ComplianceRules[0] = "changed"
	clone.Metadata.ValidationDetails["inspector"] = "mallory"
	*clone.ExpiresAt = time.Unix(200, 0)
	*clone.Metadata.Score = 10

	require.Equal(t, "FDA-21-CFR-11", original.Metadata.ComplianceRules[0])
	require.Equal(t, "alice", original.Metadata.ValidationDetails["inspector"])
	require.Equal(t, time.Unix(100, 0), *original.ExpiresAt)
	require.Equal(t, 90, *original.Metadata.Score)
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusIssued.Terminal())
	require.False(t, StatusActive.Terminal())
	require.True(t, StatusExpired.Terminal())
	require.True(t, StatusRevoked.Terminal())
	require.False(t, Status("pending").Valid())
}
