package consent

import (
	"errors"
	"time"
)

var (
	ErrInvalidType = errors.New("invalid consent type")
	ErrNotFound    = errors.New("consent record not found")
)

// Record is one entry in the append-only ledger. A withdrawal is a new record
// with Given=false, never an update to a prior one.
type Record struct {
	ID                 string     `json:"id"`
	SubjectID          string     `json:"subjectId"`
	ConsentType        string     `json:"consentType"`
	Given              bool       `json:"given"`
	Method             string     `json:"method"`
	Purposes           []string   `json:"purposes"`
	Evidence           string     `json:"evidence"`
	ValidFrom          time.Time  `json:"validFrom"`
	ValidUntil         *time.Time `json:"validUntil,omitempty"`
	WithdrawalMethod   string     `json:"withdrawalMethod,omitempty"`
	WithdrawalEvidence string     `json:"withdrawalEvidence,omitempty"`
}

// Expired reports whether the record carries a validity window that has
// already closed.
func (r Record) Expired(now time.Time) bool {
	return r.ValidUntil != nil && r.ValidUntil.Before(now)
}
