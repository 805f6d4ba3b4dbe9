package consent

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"privacyd/internal/domain/subject"
	"privacyd/internal/platform/querier"
)

// Store needs the pool rather than a bare querier because ledger mutations
// run inside their own transaction.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RunInTx runs fn against a transaction-bound TxAPI; the consent row and the
// settings update commit together or not at all.
func (s *Store) RunInTx(ctx context.Context, fn func(tx TxAPI) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{q: tx, subjects: subject.NewStore(tx)}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	q        querier.Querier
	subjects *subject.Store
}

func (t *pgTx) Insert(ctx context.Context, rec Record) error {
	_, err := t.q.Exec(ctx, `
    INSERT INTO consent_records
      (id, subject_id, consent_type, given, method, purposes, evidence,
       valid_from, valid_until, withdrawal_method, withdrawal_evidence)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
  `, rec.ID, rec.SubjectID, rec.ConsentType, rec.Given, rec.Method, rec.Purposes,
		rec.Evidence, rec.ValidFrom, rec.ValidUntil, rec.WithdrawalMethod, rec.WithdrawalEvidence)
	return err
}

func (t *pgTx) UpdateSettings(ctx context.Context, subjectID string, apply func(subject.PrivacySettings) (subject.PrivacySettings, error)) (subject.PrivacySettings, error) {
	return t.subjects.UpdateSettings(ctx, subjectID, apply)
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
    SELECT id, subject_id, consent_type, given, COALESCE(method,''), purposes,
           COALESCE(evidence,''), valid_from, valid_until,
           COALESCE(withdrawal_method,''), COALESCE(withdrawal_evidence,'')
    FROM consent_records
    WHERE subject_id = $1
    ORDER BY valid_from DESC
  `, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.ConsentType, &rec.Given,
			&rec.Method, &rec.Purposes, &rec.Evidence, &rec.ValidFrom, &rec.ValidUntil,
			&rec.WithdrawalMethod, &rec.WithdrawalEvidence); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Latest(ctx context.Context, subjectID, consentType string) (*Record, error) {
	var rec Record
	err := s.db.QueryRow(ctx, `
    SELECT id, subject_id, consent_type, given, COALESCE(method,''), purposes,
           COALESCE(evidence,''), valid_from, valid_until,
           COALESCE(withdrawal_method,''), COALESCE(withdrawal_evidence,'')
    FROM consent_records
    WHERE subject_id = $1 AND consent_type = $2
    ORDER BY valid_from DESC
    LIMIT 1
  `, subjectID, consentType).Scan(&rec.ID, &rec.SubjectID, &rec.ConsentType, &rec.Given,
		&rec.Method, &rec.Purposes, &rec.Evidence, &rec.ValidFrom, &rec.ValidUntil,
		&rec.WithdrawalMethod, &rec.WithdrawalEvidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountExpiredActive counts grants whose validity window has closed but that
// are still the latest record for their (subject, type) pair.
func (s *Store) CountExpiredActive(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM consent_records cr
    WHERE cr.given = true
      AND cr.valid_until IS NOT NULL
      AND cr.valid_until < $1
      AND cr.valid_from = (
        SELECT MAX(valid_from) FROM consent_records
        WHERE subject_id = cr.subject_id AND consent_type = cr.consent_type
      )
  `, now).Scan(&count)
	return count, err
}
