package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"privacyd/internal/platform/querier"
)

// Event is one audit-trail row. SubjectID is a pointer because erasure
// anonymizes events in place: the reference is nulled, the row stays.
type Event struct {
	ID        string          `json:"id"`
	SubjectID *string         `json:"subjectId"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Filter struct {
	Action    string
	SubjectID string
}

type Service struct {
	DB querier.Querier
}

func New(db querier.Querier) *Service {
	return &Service{DB: db}
}

func (s *Service) Record(ctx context.Context, subjectID *string, action string, details map[string]any) error {
	var detailsJSON []byte
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			return err
		}
		detailsJSON = payload
	}
	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (id, subject_id, action, details, created_at)
    VALUES ($1, $2, $3, $4, now())
  `, uuid.NewString(), subjectID, action, detailsJSON)
	return err
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]Event, error) {
	query := "SELECT id, subject_id, action, details, created_at FROM audit_events"
	args := []any{}
	if filter.Action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", len(args)+1)
		args = append(args, filter.Action)
	}
	if filter.SubjectID != "" {
		clause := " WHERE"
		if len(args) > 0 {
			clause = " AND"
		}
		query += fmt.Sprintf("%s subject_id = $%d", clause, len(args)+1)
		args = append(args, filter.SubjectID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.SubjectID, &evt.Action, &evt.Details, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
