package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"privacyd/internal/domain/subject"
)

// TxAPI is the mutation surface of one ledger transaction: the appended row
// and the privacy-settings overlay commit or roll back together.
type TxAPI interface {
	Insert(ctx context.Context, rec Record) error
	UpdateSettings(ctx context.Context, subjectID string, apply func(subject.PrivacySettings) (subject.PrivacySettings, error)) (subject.PrivacySettings, error)
}

type StoreAPI interface {
	RunInTx(ctx context.Context, fn func(tx TxAPI) error) error
	ListBySubject(ctx context.Context, subjectID string) ([]Record, error)
	Latest(ctx context.Context, subjectID, consentType string) (*Record, error)
	CountExpiredActive(ctx context.Context, now time.Time) (int, error)
}

// Ledger appends consent decisions and reflects them into the subject's
// privacy-settings overlay. Every call inserts; history is never rewritten.
type Ledger struct {
	store StoreAPI
	now   func() time.Time
}

func NewLedger(store StoreAPI) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func (l *Ledger) Record(ctx context.Context, subjectID, consentType string, given bool, method string, purposes []string, evidence string) (string, error) {
	if !subject.ValidConsentType(consentType) {
		return "", ErrInvalidType
	}
	now := l.now()
	rec := Record{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		ConsentType: consentType,
		Given:       given,
		Method:      method,
		Purposes:    purposes,
		Evidence:    evidence,
		ValidFrom:   now,
	}
	err := l.store.RunInTx(ctx, func(tx TxAPI) error {
		if _, err := tx.UpdateSettings(ctx, subjectID, func(s subject.PrivacySettings) (subject.PrivacySettings, error) {
			return subject.ApplyConsent(s, consentType, given, now)
		}); err != nil {
			return err
		}
		return tx.Insert(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Withdraw appends a Given=false record carrying the withdrawal method and
// evidence, and applies the type-specific overlay consequences.
func (l *Ledger) Withdraw(ctx context.Context, subjectID, consentType, method, evidence string) error {
	if !subject.ValidConsentType(consentType) {
		return ErrInvalidType
	}
	now := l.now()
	rec := Record{
		ID:                 uuid.NewString(),
		SubjectID:          subjectID,
		ConsentType:        consentType,
		Given:              false,
		Method:             method,
		ValidFrom:          now,
		WithdrawalMethod:   method,
		WithdrawalEvidence: evidence,
	}
	return l.store.RunInTx(ctx, func(tx TxAPI) error {
		if _, err := tx.UpdateSettings(ctx, subjectID, func(s subject.PrivacySettings) (subject.PrivacySettings, error) {
			return subject.ApplyConsent(s, consentType, false, now)
		}); err != nil {
			return err
		}
		return tx.Insert(ctx, rec)
	})
}

// Effective returns the current consent state for a type: the most recent
// record by ValidFrom, or nil when none exists.
func (l *Ledger) Effective(ctx context.Context, subjectID, consentType string) (*Record, error) {
	if !subject.ValidConsentType(consentType) {
		return nil, ErrInvalidType
	}
	return l.store.Latest(ctx, subjectID, consentType)
}

func (l *Ledger) History(ctx context.Context, subjectID string) ([]Record, error) {
	return l.store.ListBySubject(ctx, subjectID)
}
