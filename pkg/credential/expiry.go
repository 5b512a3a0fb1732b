package credential

import (
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"sort"
	"time"
)

const DefaultWarningDays = 30

type ExpiringCredential struct {
	Credential          credentials.Credential `json:"credential"`
	DaysUntilExpiration int                    `json:"daysUntilExpiration"`
}

// GetExpiringCredentials returns the credentials that have not yet expired but will within warningDays, soonest
// first. A non-positive warningDays uses DefaultWarningDays.
func GetExpiringCredentials(list []credentials.Credential, warningDays int, now time.Time) []ExpiringCredential {
	if warningDays <= 0 {
		warningDays = DefaultWarningDays
	}

	expiring := make([]ExpiringCredential, 0)
	for _, credential := range list {
		if credential.IsExpired(now) || credential.Status.Terminal() {
			continue
		}

		days, ok := credential.DaysUntilExpiration(now)
		if !ok || days > warningDays {
			continue
		}

		expiring = append(expiring, ExpiringCredential{
			Credential:          credential,
			DaysUntilExpiration: days,
		})
	}

	sort.SliceStable(expiring, func(i, j int) bool {
		return expiring[i].Credential.ExpiresAt.Before(*expiring[j].Credential.ExpiresAt)
	})

	return expiring
}

// GetExpiredCredentials returns the credentials whose expiry date has passed, most recently expired first.
func GetExpiredCredentials(list []credentials.Credential, now time.Time) []credentials.Credential {
	expired := make([]credentials.Credential, 0)
	for _, credential := range list {
		if credential.IsExpired(now) {
			expired = append(expired, credential)
		}
	}

	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.After(*expired[j].ExpiresAt)
	})

	return expired
}
