package subject

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("subject not found")
	ErrInvalidScope = errors.New("invalid scope")
)

// Subject is the data owner. It is hard-deleted only by a completed erasure
// request; everything else mutates the settings overlay.
type Subject struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Settings  PrivacySettings `json:"privacySettings"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Scope names the processing concerns a restriction or objection can target.
type Scope string

const (
	ScopeAnalytics          Scope = "analytics"
	ScopeMarketing          Scope = "marketing"
	ScopeProfiling          Scope = "profiling"
	ScopeLegitimateInterest Scope = "legitimate_interest"
	ScopeResearch           Scope = "research"
	ScopeAll                Scope = "all"
)

func ValidScope(s Scope) bool {
	switch s {
	case ScopeAnalytics, ScopeMarketing, ScopeProfiling, ScopeLegitimateInterest, ScopeResearch, ScopeAll:
		return true
	}
	return false
}

// ConsentFlag is the per-concern consent state reflected into the overlay by
// the consent ledger. The ledger itself stays the source of truth.
type ConsentFlag struct {
	Given     bool      `json:"given"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScopeFlags enumerates the nameable scopes so side effects stay typo-proof.
type ScopeFlags struct {
	Analytics          bool `json:"analytics"`
	Marketing          bool `json:"marketing"`
	Profiling          bool `json:"profiling"`
	LegitimateInterest bool `json:"legitimateInterest"`
	Research           bool `json:"research"`
}

// PrivacySettings is the versioned overlay merged into by consent,
// restriction and objection operations.
type PrivacySettings struct {
	Version          int         `json:"version"`
	Marketing        ConsentFlag `json:"marketing"`
	Analytics        ConsentFlag `json:"analytics"`
	Profiling        ConsentFlag `json:"profiling"`
	Research         ConsentFlag `json:"research"`
	MarketingEmails  bool        `json:"marketingEmails"`
	AnalyticsSharing bool        `json:"analyticsSharing"`
	Restricted       ScopeFlags  `json:"restricted"`
	Objected         ScopeFlags  `json:"objected"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// DefaultSettings is the overlay a subject starts with: deliveries enabled,
// nothing restricted, no consent recorded.
func DefaultSettings() PrivacySettings {
	return PrivacySettings{
		Version:          1,
		MarketingEmails:  true,
		AnalyticsSharing: true,
	}
}
