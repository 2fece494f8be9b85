package relay

import "github.com/zulandar/crewline/internal/models"

// ResolveWorker maps an external assignee reference to a chat identifier.
// Order: (1) active worker whose external ID matches; (2) the sole active
// worker when the integration has exactly one; (3) the integration owner.
// Every delivery is relayed to someone — never silently dropped.
func ResolveWorker(integ *models.Integration, externalUserID string) string {
	active := integ.ActiveWorkers()

	if externalUserID != "" {
		for _, w := range active {
			if w.ExternalID == externalUserID {
				return w.ChatID
			}
		}
	}

	if len(active) == 1 {
		return active[0].ChatID
	}

	return integ.OwnerChatID
}
