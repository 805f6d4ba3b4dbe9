package rights

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"privacyd/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

const requestColumns = `id, type, subject_id, requestor_email, status, priority, due_at,
	request_details, response_at, response_method, response_content, rejection_reason,
	processing_log, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, r *RightsRequest) error {
	details, log, content, err := marshalRequestJSON(r)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO rights_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, string(r.Type), r.SubjectID, r.RequestorEmail, string(r.Status), r.Priority, r.DueAt,
		details, r.ResponseAt, nullIfEmpty(r.ResponseMethod), content, nullIfEmpty(r.RejectionReason),
		log, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*RightsRequest, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+requestColumns+` FROM rights_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (s *Store) Update(ctx context.Context, r *RightsRequest) error {
	details, log, content, err := marshalRequestJSON(r)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE rights_requests
		SET subject_id = $1, status = $2, request_details = $3, response_at = $4,
		    response_method = $5, response_content = $6, rejection_reason = $7,
		    processing_log = $8, updated_at = $9
		WHERE id = $10`,
		r.SubjectID, string(r.Status), details, r.ResponseAt,
		nullIfEmpty(r.ResponseMethod), content, nullIfEmpty(r.RejectionReason),
		log, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, status Status, limit, offset int) ([]*RightsRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM rights_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	args = append(args, limit, offset)
	if status != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RightsRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]*RightsRequest, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+requestColumns+` FROM rights_requests
		WHERE status IN ($1, $2) AND due_at < $3
		ORDER BY due_at`, string(StatusPending), string(StatusInProgress), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RightsRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM rights_requests
		WHERE status IN ($1, $2) AND due_at < $3`,
		string(StatusPending), string(StatusInProgress), now).Scan(&count)
	return count, err
}

func marshalRequestJSON(r *RightsRequest) (details, log, content []byte, err error) {
	if details, err = json.Marshal(r.RequestDetails); err != nil {
		return nil, nil, nil, err
	}
	if log, err = json.Marshal(r.ProcessingLog); err != nil {
		return nil, nil, nil, err
	}
	if content, err = json.Marshal(r.ResponseContent); err != nil {
		return nil, nil, nil, err
	}
	return details, log, content, nil
}

func scanRequest(row pgx.Row) (*RightsRequest, error) {
	var r RightsRequest
	var reqType, status string
	var details, content, log []byte
	var responseMethod, rejectionReason *string
	err := row.Scan(&r.ID, &reqType, &r.SubjectID, &r.RequestorEmail, &status, &r.Priority, &r.DueAt,
		&details, &r.ResponseAt, &responseMethod, &content, &rejectionReason,
		&log, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = RequestType(reqType)
	r.Status = Status(status)
	if responseMethod != nil {
		r.ResponseMethod = *responseMethod
	}
	if rejectionReason != nil {
		r.RejectionReason = *rejectionReason
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.RequestDetails); err != nil {
			return nil, err
		}
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &r.ResponseContent); err != nil {
			return nil, err
		}
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &r.ProcessingLog); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
