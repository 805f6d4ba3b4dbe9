package compliance

import "time"

type CheckStatus string

const (
	StatusCompliant    CheckStatus = "COMPLIANT"
	StatusWarning      CheckStatus = "WARNING"
	StatusNonCompliant CheckStatus = "NON_COMPLIANT"
)

// Report is one row of a compliance run: a named check, its verdict, how many
// items violate it, and what to do about it.
type Report struct {
	Name           string      `json:"name"`
	Status         CheckStatus `json:"status"`
	Count          int         `json:"count"`
	Recommendation string      `json:"recommendation,omitempty"`
}

// dpaNotificationWindow is the regulatory deadline for notifying the
// supervisory authority after a breach is discovered.
const dpaNotificationWindow = 72 * time.Hour

// ProcessingActivity is one entry of the records-of-processing register.
// The register is maintained in code; the monitor checks it for completeness.
type ProcessingActivity struct {
	Name        string
	Purpose     string
	LawfulBasis string
	Categories  []string
	Retention   string
}

// Register lists the processing activities this service performs.
var Register = []ProcessingActivity{
	{
		Name:        "rights-request-handling",
		Purpose:     "Fulfil data subject rights requests",
		LawfulBasis: "legal_obligation",
		Categories:  []string{"identity", "contact", "request content"},
		Retention:   "requests retained indefinitely for audit; subject link removed on erasure",
	},
	{
		Name:        "consent-ledger",
		Purpose:     "Record and evidence consent decisions",
		LawfulBasis: "legal_obligation",
		Categories:  []string{"identity", "consent decisions"},
		Retention:   "append-only; anonymized on erasure",
	},
	{
		Name:        "data-export",
		Purpose:     "Produce machine-readable copies of subject data",
		LawfulBasis: "legal_obligation",
		Categories:  []string{"all subject-owned data"},
		Retention:   "export files removed after 30 days",
	},
	{
		Name:        "breach-monitoring",
		Purpose:     "Track notification deadlines for data breach incidents",
		LawfulBasis: "legal_obligation",
		Categories:  []string{"incident metadata"},
		Retention:   "incident records retained per incident-response policy",
	},
}
