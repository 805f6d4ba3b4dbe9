package compliance_test

import (
	"context"
	"testing"
	"time"

	"privacyd/internal/domain/compliance"
	"privacyd/internal/domain/consent"
	"privacyd/internal/domain/rights"
	"privacyd/internal/storage"
)

func reportByName(t *testing.T, reports []compliance.Report, name string) compliance.Report {
	t.Helper()
	for _, r := range reports {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no report named %q in %v", name, reports)
	return compliance.Report{}
}

func TestCleanSystemIsCompliant(t *testing.T) {
	mem := storage.NewMemory()
	monitor := compliance.NewMonitor(mem.Rights(), mem.Consents(), mem.Breaches())

	reports, err := monitor.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range reports {
		if r.Status != compliance.StatusCompliant {
			t.Errorf("%s = %s with count %d, want COMPLIANT", r.Name, r.Status, r.Count)
		}
	}
}

func TestOverdueRequestDetection(t *testing.T) {
	mem := storage.NewMemory()
	now := time.Now().UTC()
	req := &rights.RightsRequest{
		ID:             "req-1",
		Type:           rights.TypeAccess,
		RequestorEmail: "a@example.com",
		Status:         rights.StatusPending,
		DueAt:          now.Add(-24 * time.Hour),
		CreatedAt:      now.Add(-31 * 24 * time.Hour),
	}
	if err := mem.Rights().Insert(context.Background(), req); err != nil {
		t.Fatalf("insert: %v", err)
	}

	monitor := compliance.NewMonitor(mem.Rights(), mem.Consents(), mem.Breaches())
	reports, err := monitor.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	r := reportByName(t, reports, "Data Subject Requests")
	if r.Status != compliance.StatusNonCompliant {
		t.Fatalf("status = %s, want NON_COMPLIANT", r.Status)
	}
	if r.Count < 1 {
		t.Fatalf("count = %d, want >= 1", r.Count)
	}
	if r.Recommendation == "" {
		t.Fatal("missing recommendation")
	}
}

func TestBreachNotificationWindow(t *testing.T) {
	mem := storage.NewMemory()
	now := time.Now().UTC()
	// Inside the 72h window: not yet a violation.
	mem.AddBreach(now.Add(-24*time.Hour), true, nil)
	// Past the window and unnotified: violation.
	mem.AddBreach(now.Add(-96*time.Hour), true, nil)
	// Past the window but notified: fine.
	notified := now.Add(-48 * time.Hour)
	mem.AddBreach(now.Add(-96*time.Hour), true, &notified)
	// Notification not required at all.
	mem.AddBreach(now.Add(-200*time.Hour), false, nil)

	monitor := compliance.NewMonitor(mem.Rights(), mem.Consents(), mem.Breaches())
	reports, err := monitor.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	r := reportByName(t, reports, "Breach Notifications")
	if r.Status != compliance.StatusNonCompliant {
		t.Fatalf("status = %s, want NON_COMPLIANT", r.Status)
	}
	if r.Count != 1 {
		t.Fatalf("count = %d, want 1", r.Count)
	}
}

func TestExpiredConsentWarning(t *testing.T) {
	mem := storage.NewMemory()
	subjectID := mem.AddSubject("ada@example.com", "Ada")
	now := time.Now().UTC()
	until := now.Add(-time.Hour)
	rec := consent.Record{
		ID:          "c-1",
		SubjectID:   subjectID,
		ConsentType: "marketing",
		Given:       true,
		ValidFrom:   now.Add(-48 * time.Hour),
		ValidUntil:  &until,
	}
	if err := mem.Consents().Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	monitor := compliance.NewMonitor(mem.Rights(), mem.Consents(), mem.Breaches())
	reports, err := monitor.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	r := reportByName(t, reports, "Consent Records")
	if r.Status != compliance.StatusWarning {
		t.Fatalf("status = %s, want WARNING", r.Status)
	}
	if r.Count != 1 {
		t.Fatalf("count = %d, want 1", r.Count)
	}
}

func TestRenderPDF(t *testing.T) {
	reports := []compliance.Report{
		{Name: "Data Subject Requests", Status: compliance.StatusNonCompliant, Count: 2, Recommendation: "Resolve overdue rights requests."},
		{Name: "Consent Records", Status: compliance.StatusCompliant},
	}
	data, err := compliance.RenderPDF(reports, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(data) == 0 || string(data[:4]) != "%PDF" {
		t.Fatalf("output is not a PDF (%d bytes)", len(data))
	}
}
