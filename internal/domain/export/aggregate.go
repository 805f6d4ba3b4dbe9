package export

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reader exposes one method per export section. Sections are independently
// queryable so one failure does not block the rest.
type Reader interface {
	AccountInfo(ctx context.Context, subjectID string) (map[string]any, error)
	Documents(ctx context.Context, subjectID string) ([]map[string]any, error)
	Analyses(ctx context.Context, subjectID string) ([]map[string]any, error)
	Actions(ctx context.Context, subjectID string) ([]map[string]any, error)
	Notifications(ctx context.Context, subjectID string) ([]map[string]any, error)
	NotificationPreferences(ctx context.Context, subjectID string) ([]map[string]any, error)
	APIUsage(ctx context.Context, subjectID string) ([]map[string]any, error)
	TeamMemberships(ctx context.Context, subjectID string) ([]map[string]any, error)
	ConsentHistory(ctx context.Context, subjectID string) ([]map[string]any, error)
	Integrations(ctx context.Context, subjectID string) ([]map[string]any, error)
	AuditTrail(ctx context.Context, subjectID string) ([]map[string]any, error)
}

// Aggregate is the canonical nested document an export serializes. Failed
// lists the sections that could not be read; they are gaps, not errors.
type Aggregate struct {
	SubjectID   string         `json:"subjectId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Sections    map[string]any `json:"sections"`
	Failed      []string       `json:"failedSections,omitempty"`
}

const sectionConcurrency = 4

// BuildAggregate assembles the canonical document best-effort. The account
// section is the one mandatory section: a missing subject aborts the export.
// The remaining sections are read concurrently, a few at a time.
func BuildAggregate(ctx context.Context, r Reader, subjectID string) (*Aggregate, error) {
	account, err := r.AccountInfo(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{
		SubjectID:   subjectID,
		GeneratedAt: time.Now().UTC(),
		Sections:    map[string]any{"account": account},
	}

	sections := []struct {
		name string
		read func(context.Context, string) ([]map[string]any, error)
	}{
		{"documents", r.Documents},
		{"analyses", r.Analyses},
		{"actions", r.Actions},
		{"notifications", r.Notifications},
		{"notificationPreferences", r.NotificationPreferences},
		{"apiUsage", r.APIUsage},
		{"teamMemberships", r.TeamMemberships},
		{"consentHistory", r.ConsentHistory},
		{"integrations", r.Integrations},
		{"auditTrail", r.AuditTrail},
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sectionConcurrency)
	for _, section := range sections {
		group.Go(func() error {
			rows, err := section.read(groupCtx, subjectID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("export section failed", "section", section.name, "subjectId", subjectID, "err", err)
				agg.Failed = append(agg.Failed, section.name)
				return nil
			}
			if rows == nil {
				rows = []map[string]any{}
			}
			agg.Sections[section.name] = rows
			return nil
		})
	}
	_ = group.Wait()
	sort.Strings(agg.Failed)
	return agg, nil
}

// Document renders the aggregate as the map the serializers consume,
// optionally embedding generation metadata so gaps are flagged in-band.
func (a *Aggregate) Document(includeMetadata bool) map[string]any {
	doc := make(map[string]any, len(a.Sections)+2)
	for name, section := range a.Sections {
		doc[name] = section
	}
	doc["subjectId"] = a.SubjectID
	if includeMetadata {
		metadata := map[string]any{
			"generatedAt": a.GeneratedAt.Format(time.RFC3339),
		}
		if len(a.Failed) > 0 {
			metadata["failedSections"] = a.Failed
		}
		doc["metadata"] = metadata
	}
	return doc
}
