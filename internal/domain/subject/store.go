package subject

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"privacyd/internal/platform/querier"
)

type StoreAPI interface {
	Get(ctx context.Context, subjectID string) (*Subject, error)
	UpdateSettings(ctx context.Context, subjectID string, apply func(PrivacySettings) (PrivacySettings, error)) (PrivacySettings, error)
	UpdateProfile(ctx context.Context, subjectID, name, email string) error
}

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) Get(ctx context.Context, subjectID string) (*Subject, error) {
	var sub Subject
	var settingsJSON []byte
	err := s.DB.QueryRow(ctx, `
    SELECT id, email, COALESCE(name,''), privacy_settings, created_at
    FROM subjects
    WHERE id = $1
  `, subjectID).Scan(&sub.ID, &sub.Email, &sub.Name, &settingsJSON, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Settings = DefaultSettings()
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &sub.Settings); err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

// UpdateSettings applies a pure merge function to the current overlay and
// persists the result. Callers serialize per subject, so read-modify-write is
// safe here.
func (s *Store) UpdateSettings(ctx context.Context, subjectID string, apply func(PrivacySettings) (PrivacySettings, error)) (PrivacySettings, error) {
	sub, err := s.Get(ctx, subjectID)
	if err != nil {
		return PrivacySettings{}, err
	}
	next, err := apply(sub.Settings)
	if err != nil {
		return PrivacySettings{}, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return PrivacySettings{}, err
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE subjects SET privacy_settings = $1, updated_at = now()
    WHERE id = $2
  `, payload, subjectID)
	if err != nil {
		return PrivacySettings{}, err
	}
	if tag.RowsAffected() == 0 {
		return PrivacySettings{}, ErrNotFound
	}
	return next, nil
}

func (s *Store) UpdateProfile(ctx context.Context, subjectID, name, email string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE subjects
    SET name = COALESCE(NULLIF($1,''), name),
        email = COALESCE(NULLIF($2,''), email),
        updated_at = now()
    WHERE id = $3
  `, name, email, subjectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
