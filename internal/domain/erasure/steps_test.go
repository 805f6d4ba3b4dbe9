package erasure

import "testing"

func TestCascadeOrderChildrenBeforeParents(t *testing.T) {
	pos := make(map[string]int, len(CascadeSteps))
	for i, step := range CascadeSteps {
		pos[step.Entity] = i
	}

	before := [][2]string{
		{"api_key_usage", "api_keys"},
		{"analysis_findings", "analyses"},
		{"analyses", "documents"},
		{"team_members", "teams"},
		{"export_artifacts", "rights_requests"},
	}
	for _, pair := range before {
		if pos[pair[0]] >= pos[pair[1]] {
			t.Fatalf("%s must be handled before %s", pair[0], pair[1])
		}
	}

	if CascadeSteps[len(CascadeSteps)-1].Entity != "subjects" {
		t.Fatal("subject row must be the final cascade step")
	}
}

func TestCascadePreservesAuditShape(t *testing.T) {
	ops := make(map[string]Op, len(CascadeSteps))
	for _, step := range CascadeSteps {
		ops[step.Entity] = step.Op
	}

	if ops["audit_events"] != OpAnonymize {
		t.Fatal("audit events must be anonymized, not deleted")
	}
	if ops["consent_records"] != OpAnonymize {
		t.Fatal("consent ledger must be anonymized, not deleted")
	}
	if ops["rights_requests"] != OpDetach {
		t.Fatal("rights requests are retained for audit with the subject detached")
	}
	if ops["teams"] != OpDetach {
		t.Fatal("team ownership transfers to null; teams survive")
	}
}

func TestEveryStepHasStatement(t *testing.T) {
	for _, step := range CascadeSteps {
		if _, ok := cascadeSQL[step]; !ok {
			t.Fatalf("cascade step %s/%s has no statement", step.Entity, step.Op)
		}
	}
	if len(cascadeSQL) != len(CascadeSteps) {
		t.Fatalf("statement map has %d entries for %d steps", len(cascadeSQL), len(CascadeSteps))
	}
}
