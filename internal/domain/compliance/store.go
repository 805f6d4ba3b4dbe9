package compliance

import (
	"context"
	"time"

	"privacyd/internal/platform/querier"
)

// BreachStore reads data-breach incidents. The engine monitors them; it
// never creates or mutates incidents.
type BreachStore struct {
	DB querier.Querier
}

func NewBreachStore(db querier.Querier) *BreachStore {
	return &BreachStore{DB: db}
}

func (s *BreachStore) CountOverdueNotifications(ctx context.Context, deadline time.Time) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM breach_incidents
		WHERE dpa_notification_required
		  AND dpa_notified_at IS NULL
		  AND discovered_at < $1`, deadline).Scan(&count)
	return count, err
}
