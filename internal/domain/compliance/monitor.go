package compliance

import (
	"context"
	"fmt"
	"time"
)

// Read-side sources the monitor inspects. It never mutates anything.
type (
	RequestSource interface {
		CountOverdue(ctx context.Context, now time.Time) (int, error)
	}
	ConsentSource interface {
		CountExpiredActive(ctx context.Context, now time.Time) (int, error)
	}
	BreachSource interface {
		CountOverdueNotifications(ctx context.Context, deadline time.Time) (int, error)
	}
)

// Monitor produces a point-in-time compliance report. It is purely
// diagnostic and holds no state of its own.
type Monitor struct {
	requests RequestSource
	consents ConsentSource
	breaches BreachSource
	now      func() time.Time
}

func NewMonitor(requests RequestSource, consents ConsentSource, breaches BreachSource) *Monitor {
	return &Monitor{requests: requests, consents: consents, breaches: breaches, now: time.Now}
}

// Run evaluates every check and returns one report row per check.
func (m *Monitor) Run(ctx context.Context) ([]Report, error) {
	now := m.now().UTC()
	var reports []Report

	overdue, err := m.requests.CountOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count overdue requests: %w", err)
	}
	reports = append(reports, verdict("Data Subject Requests", overdue, StatusNonCompliant,
		"Resolve overdue rights requests; the response deadline has passed."))

	lateBreaches, err := m.breaches.CountOverdueNotifications(ctx, now.Add(-dpaNotificationWindow))
	if err != nil {
		return nil, fmt.Errorf("count overdue breach notifications: %w", err)
	}
	reports = append(reports, verdict("Breach Notifications", lateBreaches, StatusNonCompliant,
		"Notify the supervisory authority; the 72-hour window has closed."))

	staleConsents, err := m.consents.CountExpiredActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count expired consents: %w", err)
	}
	reports = append(reports, verdict("Consent Records", staleConsents, StatusWarning,
		"Re-obtain or withdraw consents whose validity period has ended."))

	incomplete := 0
	for _, activity := range Register {
		if activity.Purpose == "" || activity.LawfulBasis == "" {
			incomplete++
		}
	}
	reports = append(reports, verdict("Processing Activities", incomplete, StatusWarning,
		"Document purpose and lawful basis for every processing activity."))

	return reports, nil
}

func verdict(name string, count int, failStatus CheckStatus, recommendation string) Report {
	r := Report{Name: name, Status: StatusCompliant, Count: count}
	if count > 0 {
		r.Status = failStatus
		r.Recommendation = recommendation
	}
	return r
}
