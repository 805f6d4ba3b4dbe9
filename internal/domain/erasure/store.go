package erasure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// cascadeSQL maps each step to its statement. Every statement takes the
// subject id as its only parameter.
var cascadeSQL = map[Step]string{
	{Entity: "sessions", Op: OpDelete}:                 `DELETE FROM sessions WHERE subject_id = $1`,
	{Entity: "api_key_usage", Op: OpDelete}:            `DELETE FROM api_key_usage WHERE api_key_id IN (SELECT id FROM api_keys WHERE subject_id = $1)`,
	{Entity: "api_keys", Op: OpDelete}:                 `DELETE FROM api_keys WHERE subject_id = $1`,
	{Entity: "notification_preferences", Op: OpDelete}: `DELETE FROM notification_preferences WHERE subject_id = $1`,
	{Entity: "notifications", Op: OpDelete}:            `DELETE FROM notifications WHERE subject_id = $1`,
	{Entity: "user_actions", Op: OpDelete}:             `DELETE FROM user_actions WHERE subject_id = $1`,
	{Entity: "analysis_findings", Op: OpDelete}:        `DELETE FROM analysis_findings WHERE analysis_id IN (SELECT id FROM analyses WHERE subject_id = $1)`,
	{Entity: "analyses", Op: OpDelete}:                 `DELETE FROM analyses WHERE subject_id = $1`,
	{Entity: "documents", Op: OpDelete}:                `DELETE FROM documents WHERE subject_id = $1`,
	{Entity: "team_members", Op: OpDelete}:             `DELETE FROM team_members WHERE subject_id = $1`,
	{Entity: "teams", Op: OpDetach}:                    `UPDATE teams SET owner_id = NULL, updated_at = now() WHERE owner_id = $1`,
	{Entity: "alerts", Op: OpDelete}:                   `DELETE FROM alerts WHERE subject_id = $1`,
	{Entity: "consent_records", Op: OpAnonymize}: `
    UPDATE consent_records
    SET subject_id = NULL, evidence = '', withdrawal_evidence = '', method = ''
    WHERE subject_id = $1`,
	{Entity: "integrations", Op: OpDelete}: `DELETE FROM integrations WHERE subject_id = $1`,
	{Entity: "audit_events", Op: OpAnonymize}: `
    UPDATE audit_events
    SET subject_id = NULL, details = NULL
    WHERE subject_id = $1`,
	{Entity: "export_artifacts", Op: OpAnonymize}: `
    UPDATE export_artifacts
    SET status = 'expired', file_path = ''
    WHERE request_id IN (SELECT id FROM rights_requests WHERE subject_id = $1)`,
	{Entity: "rights_requests", Op: OpDetach}: `UPDATE rights_requests SET subject_id = NULL WHERE subject_id = $1`,
	{Entity: "subjects", Op: OpDelete}:        `DELETE FROM subjects WHERE id = $1`,
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) SubjectExists(ctx context.Context, subjectID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1)`, subjectID).Scan(&exists)
	return exists, err
}

func (s *Store) ArtifactPaths(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT COALESCE(file_path,'')
    FROM export_artifacts
    WHERE request_id IN (SELECT id FROM rights_requests WHERE subject_id = $1)
  `, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, rows.Err()
}

func (s *Store) RunInTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Apply(ctx context.Context, step Step, subjectID string) (int64, error) {
	statement, ok := cascadeSQL[step]
	if !ok {
		return 0, fmt.Errorf("no statement for cascade step %s/%s", step.Entity, step.Op)
	}
	tag, err := t.tx.Exec(ctx, statement, subjectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
