package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleDocument() map[string]any {
	return map[string]any{
		"subjectId": "subj-1",
		"account": map[string]any{
			"email": "ada@example.com",
			"name":  "Ada",
		},
		"documents": []map[string]any{
			{"id": "doc-1", "title": "Q1 report"},
			{"id": "doc-2", "title": "Q2 report"},
		},
		"consentHistory": []map[string]any{
			{"consentType": "marketing", "purposes": []any{"newsletter", "offers"}},
		},
	}
}

func TestSerializeJSONRoundTrip(t *testing.T) {
	doc := sampleDocument()
	data, err := Serialize(doc, FormatJSON)
	if err != nil {
		t.Fatalf("serialize json: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var want map[string]any
	canonical, _ := json.Marshal(doc)
	if err := json.Unmarshal(canonical, &want); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("json round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeCSVFlattensNestedKeys(t *testing.T) {
	data, err := Serialize(sampleDocument(), FormatCSV)
	if err != nil {
		t.Fatalf("serialize csv: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) < 2 {
		t.Fatalf("expected header plus rows, got %d records", len(records))
	}

	header := records[0]
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("column %q missing from header %v", name, header)
		return -1
	}

	root := records[1]
	if got := root[col("account.email")]; got != "ada@example.com" {
		t.Fatalf("account.email = %q", got)
	}
	if got := root[col("subjectId")]; got != "subj-1" {
		t.Fatalf("subjectId = %q", got)
	}

	// Two document rows plus one consent row follow the root row.
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	var titles []string
	for _, row := range records[2:] {
		if v := row[col("documents.title")]; v != "" {
			titles = append(titles, v)
		}
	}
	if diff := cmp.Diff([]string{"Q1 report", "Q2 report"}, titles); diff != "" {
		t.Fatalf("document rows mismatch (-want +got):\n%s", diff)
	}

	var purposes string
	for _, row := range records[2:] {
		if v := row[col("consentHistory.purposes")]; v != "" {
			purposes = v
		}
	}
	if purposes != "newsletter;offers" {
		t.Fatalf("scalar list cell = %q, want semicolon joined", purposes)
	}
}

func TestSerializeXMLRepeatsSequenceElements(t *testing.T) {
	data, err := Serialize(sampleDocument(), FormatXML)
	if err != nil {
		t.Fatalf("serialize xml: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("missing xml declaration: %q", out[:20])
	}
	if got := strings.Count(out, "<documents>"); got != 2 {
		t.Fatalf("expected 2 <documents> siblings, got %d", got)
	}
	if got := strings.Count(out, "<purposes>"); got != 2 {
		t.Fatalf("expected 2 <purposes> siblings, got %d", got)
	}
	if !strings.Contains(out, "<email>ada@example.com</email>") {
		t.Fatal("nested account element missing")
	}
}

func TestSerializeXMLEscapesText(t *testing.T) {
	data, err := Serialize(map[string]any{"name": `Ada <"Lovelace"> & co`}, FormatXML)
	if err != nil {
		t.Fatalf("serialize xml: %v", err)
	}
	if strings.Contains(string(data), `<"Lovelace">`) {
		t.Fatal("text content was not escaped")
	}
}

func TestSerializeRejectsUnknownFormat(t *testing.T) {
	if _, err := Serialize(map[string]any{}, Format("yaml")); err != ErrInvalidFormat {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}
