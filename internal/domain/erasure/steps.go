package erasure

// Op is what a cascade step does to an entity's rows.
type Op string

const (
	// OpDelete removes the subject's rows outright.
	OpDelete Op = "delete"
	// OpAnonymize keeps the rows but nulls the subject reference and redacts
	// embedded personal data.
	OpAnonymize Op = "anonymize"
	// OpDetach nulls a foreign key so the referenced row survives ownerless.
	OpDetach Op = "detach"
)

type Step struct {
	Entity string
	Op     Op
}

// CascadeSteps is the full erasure order. Children go before parents so each
// step releases the foreign-key references the next one depends on; the
// subject row is always last. The list is plain data so the order can be
// reviewed and tested apart from the transaction mechanics.
var CascadeSteps = []Step{
	{Entity: "sessions", Op: OpDelete},
	{Entity: "api_key_usage", Op: OpDelete},
	{Entity: "api_keys", Op: OpDelete},
	{Entity: "notification_preferences", Op: OpDelete},
	{Entity: "notifications", Op: OpDelete},
	{Entity: "user_actions", Op: OpDelete},
	{Entity: "analysis_findings", Op: OpDelete},
	{Entity: "analyses", Op: OpDelete},
	{Entity: "documents", Op: OpDelete},
	{Entity: "team_members", Op: OpDelete},
	{Entity: "teams", Op: OpDetach},
	{Entity: "alerts", Op: OpDelete},
	{Entity: "consent_records", Op: OpAnonymize},
	{Entity: "integrations", Op: OpDelete},
	{Entity: "audit_events", Op: OpAnonymize},
	{Entity: "export_artifacts", Op: OpAnonymize},
	{Entity: "rights_requests", Op: OpDetach},
	{Entity: "subjects", Op: OpDelete},
}
