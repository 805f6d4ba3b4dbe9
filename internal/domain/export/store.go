package export

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"privacyd/internal/domain/subject"
	"privacyd/internal/platform/querier"
)

// Store persists artifact records in Postgres.
type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) Insert(ctx context.Context, a *Artifact) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO export_artifacts (id, request_id, format, encrypted, file_path, file_name, size_bytes, created_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.RequestID, string(a.Format), a.Encrypted, a.FilePath, a.FileName, a.SizeBytes, a.CreatedAt, a.ExpiresAt, a.Status)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	var format string
	err := s.DB.QueryRow(ctx, `
		SELECT id, request_id, format, encrypted, file_path, file_name, size_bytes, created_at, expires_at, status
		FROM export_artifacts WHERE id = $1`, id).
		Scan(&a.ID, &a.RequestID, &format, &a.Encrypted, &a.FilePath, &a.FileName, &a.SizeBytes, &a.CreatedAt, &a.ExpiresAt, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Format = Format(format)
	return &a, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*Artifact, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, request_id, format, encrypted, file_path, file_name, size_bytes, created_at, expires_at, status
		FROM export_artifacts WHERE status = $1 AND expires_at <= $2`, StatusCompleted, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Artifact
	for rows.Next() {
		var a Artifact
		var format string
		if err := rows.Scan(&a.ID, &a.RequestID, &format, &a.Encrypted, &a.FilePath, &a.FileName, &a.SizeBytes, &a.CreatedAt, &a.ExpiresAt, &a.Status); err != nil {
			return nil, err
		}
		a.Format = Format(format)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) MarkExpired(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `UPDATE export_artifacts SET status = $1 WHERE id = $2`, StatusExpired, id)
	return err
}

// PGReader reads export sections straight from Postgres. Each section is one
// row_to_json query so column additions flow into exports without code
// changes.
type PGReader struct {
	DB querier.Querier
}

func NewPGReader(db querier.Querier) *PGReader {
	return &PGReader{DB: db}
}

func (r *PGReader) AccountInfo(ctx context.Context, subjectID string) (map[string]any, error) {
	var rowJSON []byte
	err := r.DB.QueryRow(ctx, `
		SELECT row_to_json(s) FROM (
			SELECT id, email, name, privacy_settings, created_at FROM subjects WHERE id = $1
		) s`, subjectID).Scan(&rowJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subject.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(rowJSON, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *PGReader) queryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var rowJSON []byte
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, err
		}
		var row map[string]any
		if err := json.Unmarshal(rowJSON, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PGReader) Documents(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(d) FROM documents d WHERE d.subject_id = $1`, subjectID)
}

func (r *PGReader) Analyses(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(a) FROM analyses a WHERE a.subject_id = $1`, subjectID)
}

func (r *PGReader) Actions(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(ua) FROM user_actions ua WHERE ua.subject_id = $1`, subjectID)
}

func (r *PGReader) Notifications(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(n) FROM notifications n WHERE n.subject_id = $1`, subjectID)
}

func (r *PGReader) NotificationPreferences(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(np) FROM notification_preferences np WHERE np.subject_id = $1`, subjectID)
}

func (r *PGReader) APIUsage(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `
		SELECT row_to_json(u) FROM api_key_usage u
		JOIN api_keys k ON u.api_key_id = k.id
		WHERE k.subject_id = $1`, subjectID)
}

func (r *PGReader) TeamMemberships(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `
		SELECT row_to_json(m) FROM (
			SELECT tm.team_id, t.name AS team_name, tm.role, tm.joined_at
			FROM team_members tm JOIN teams t ON tm.team_id = t.id
			WHERE tm.subject_id = $1
		) m`, subjectID)
}

func (r *PGReader) ConsentHistory(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(cr) FROM consent_records cr WHERE cr.subject_id = $1 ORDER BY cr.valid_from DESC`, subjectID)
}

func (r *PGReader) Integrations(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(i) FROM integrations i WHERE i.subject_id = $1`, subjectID)
}

func (r *PGReader) AuditTrail(ctx context.Context, subjectID string) ([]map[string]any, error) {
	return r.queryRows(ctx, `SELECT row_to_json(ae) FROM audit_events ae WHERE ae.subject_id = $1 ORDER BY ae.created_at DESC`, subjectID)
}
