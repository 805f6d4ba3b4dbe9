package subject

import (
	"fmt"
	"time"
)

// Consent types the overlay mirrors. The ledger validates against the same
// set so the side-effect mapping stays exhaustively enumerable.
const (
	ConsentMarketing = "marketing"
	ConsentAnalytics = "analytics"
	ConsentProfiling = "profiling"
	ConsentResearch  = "research"
)

func ValidConsentType(consentType string) bool {
	switch consentType {
	case ConsentMarketing, ConsentAnalytics, ConsentProfiling, ConsentResearch:
		return true
	}
	return false
}

// ApplyConsent merges a consent decision into the overlay. Withdrawing
// marketing consent also disables marketing-email delivery; withdrawing
// analytics consent disables analytics sharing.
func ApplyConsent(s PrivacySettings, consentType string, given bool, at time.Time) (PrivacySettings, error) {
	flag := ConsentFlag{Given: given, UpdatedAt: at}
	switch consentType {
	case ConsentMarketing:
		s.Marketing = flag
		if !given {
			s.MarketingEmails = false
		}
	case ConsentAnalytics:
		s.Analytics = flag
		if !given {
			s.AnalyticsSharing = false
		}
	case ConsentProfiling:
		s.Profiling = flag
	case ConsentResearch:
		s.Research = flag
	default:
		return s, fmt.Errorf("unknown consent type %q", consentType)
	}
	s.Version++
	s.UpdatedAt = at
	return s, nil
}

// ApplyRestriction marks the named scopes restricted. Restriction never
// deletes data; it only limits processing.
func ApplyRestriction(s PrivacySettings, scopes []Scope, at time.Time) (PrivacySettings, error) {
	flags, err := mergeScopes(s.Restricted, scopes)
	if err != nil {
		return s, err
	}
	s.Restricted = flags
	s.Version++
	s.UpdatedAt = at
	return s, nil
}

// ApplyObjection marks the named scopes objected and applies the
// type-specific consequences (marketing objection stops marketing email,
// analytics objection stops analytics sharing).
func ApplyObjection(s PrivacySettings, scopes []Scope, at time.Time) (PrivacySettings, error) {
	flags, err := mergeScopes(s.Objected, scopes)
	if err != nil {
		return s, err
	}
	s.Objected = flags
	if flags.Marketing {
		s.MarketingEmails = false
	}
	if flags.Analytics {
		s.AnalyticsSharing = false
	}
	s.Version++
	s.UpdatedAt = at
	return s, nil
}

func mergeScopes(flags ScopeFlags, scopes []Scope) (ScopeFlags, error) {
	for _, scope := range scopes {
		switch scope {
		case ScopeAnalytics:
			flags.Analytics = true
		case ScopeMarketing:
			flags.Marketing = true
		case ScopeProfiling:
			flags.Profiling = true
		case ScopeLegitimateInterest:
			flags.LegitimateInterest = true
		case ScopeResearch:
			flags.Research = true
		case ScopeAll:
			flags = ScopeFlags{
				Analytics:          true,
				Marketing:          true,
				Profiling:          true,
				LegitimateInterest: true,
				Research:           true,
			}
		default:
			return flags, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
	}
	return flags, nil
}
