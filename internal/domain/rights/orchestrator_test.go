package rights_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"privacyd/internal/domain/erasure"
	"privacyd/internal/domain/export"
	"privacyd/internal/domain/rights"
	"privacyd/internal/domain/subject"
	"privacyd/internal/platform/config"
	"privacyd/internal/platform/crypto"
	"privacyd/internal/platform/email"
	"privacyd/internal/platform/metrics"
	"privacyd/internal/storage"
)

type fixture struct {
	mem  *storage.Memory
	orch *rights.Orchestrator
	pipe *export.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := storage.NewMemory()

	cryptoSvc, err := crypto.New("test-secret")
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	signer, err := export.NewSigner("test-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	pipe := export.NewPipeline(mem.Reader(), mem.Artifacts(), cryptoSvc, signer, t.TempDir(), 30*24*time.Hour, 24*time.Hour)
	engine := erasure.NewEngine(mem.Erasure())

	orch := rights.NewOrchestrator(mem.Rights(), mem.Subjects(), engine, pipe, email.New(config.Config{}), mem.Audit(), metrics.New(), rights.Options{
		SLA:            30 * 24 * time.Hour,
		ProcessTimeout: time.Minute,
		EncryptExports: false,
		DownloadURL:    "http://localhost:8080/api/v1/exports/download",
	})
	return &fixture{mem: mem, orch: orch, pipe: pipe}
}

func TestSubmitRejectsInvalidType(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.Submit(context.Background(), "deletion", nil, "a@example.com", nil); !errors.Is(err, rights.ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
}

func TestSubmitFixesDeadline(t *testing.T) {
	f := newFixture(t)
	before := time.Now().UTC()
	req, err := f.orch.Submit(context.Background(), rights.TypeAccess, nil, "a@example.com", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != rights.StatusPending {
		t.Fatalf("status = %s", req.Status)
	}
	deadline := before.Add(30 * 24 * time.Hour)
	if req.DueAt.Before(deadline.Add(-time.Minute)) || req.DueAt.After(deadline.Add(time.Minute)) {
		t.Fatalf("dueAt = %v, want around %v", req.DueAt, deadline)
	}
}

func TestAccessRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")
	f.mem.AddDocument(subjectID, "report")

	req, err := f.orch.Submit(ctx, rights.TypeAccess, &subjectID, "ada@example.com", map[string]any{"format": "json"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	processed, err := f.orch.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.Status != rights.StatusCompleted {
		t.Fatalf("status = %s, want completed", processed.Status)
	}
	if processed.ResponseMethod != "download_link" {
		t.Fatalf("responseMethod = %q", processed.ResponseMethod)
	}
	link, _ := processed.ResponseContent["downloadUrl"].(string)
	if link == "" {
		t.Fatal("responseContent missing downloadUrl")
	}

	// The link's token resolves to a downloadable artifact.
	_, token, found := strings.Cut(link, "token=")
	if !found {
		t.Fatalf("no token in link %q", link)
	}
	artifact, err := f.pipe.ResolveDownloadToken(ctx, token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if artifact.RequestID != req.ID {
		t.Fatalf("artifact belongs to %q", artifact.RequestID)
	}
}

func TestErasureRequestScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	subjectID := f.mem.AddSubject("ada@example.com", "Ada")
	for i := 0; i < 3; i++ {
		f.mem.AddDocument(subjectID, "doc")
	}
	f.mem.AddAnalysis(subjectID)
	f.mem.AddAnalysis(subjectID)
	teamID := f.mem.AddTeam("research", subjectID)
	f.mem.AddTeamMember(teamID, subjectID, "owner")

	req, err := f.orch.Submit(ctx, rights.TypeErasure, &subjectID, "ada@example.com", map[string]any{"reason": "account closure"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Priority != rights.PriorityHigh {
		t.Fatalf("erasure priority = %q", req.Priority)
	}

	processed, err := f.orch.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.Status != rights.StatusCompleted {
		t.Fatalf("status = %s", processed.Status)
	}

	counts, _ := processed.ResponseContent["deletedCounts"].(map[string]any)
	if counts == nil {
		t.Fatal("responseContent missing deletedCounts")
	}
	if counts["documents"] != int64(3) {
		t.Fatalf("deletedCounts[documents] = %v, want 3", counts["documents"])
	}
	if counts["analyses"] != int64(2) {
		t.Fatalf("deletedCounts[analyses] = %v, want 2", counts["analyses"])
	}

	// The request row survives with the subject link removed.
	fetched, err := f.orch.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.SubjectID != nil {
		t.Fatalf("subjectId = %q, want nil", *fetched.SubjectID)
	}
	if fetched.Status != rights.StatusCompleted {
		t.Fatalf("status = %s", fetched.Status)
	}

	team := f.mem.Team(teamID)
	if team == nil || team.OwnerID != nil {
		t.Fatalf("team = %+v, want surviving ownerless team", team)
	}
}

func TestProcessIdempotentOnTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")

	req, err := f.orch.Submit(ctx, rights.TypeRestriction, &subjectID, "ada@example.com", map[string]any{"scopes": []string{"marketing"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	first, err := f.orch.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if first.Status != rights.StatusCompleted {
		t.Fatalf("status = %s", first.Status)
	}

	second, err := f.orch.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if second.Status != rights.StatusCompleted || second.ResponseAt == nil || !second.ResponseAt.Equal(*first.ResponseAt) {
		t.Fatal("terminal request changed on reprocessing")
	}
	if len(second.ProcessingLog) != len(first.ProcessingLog) {
		t.Fatal("processing log grew on terminal reprocess")
	}
}

func TestValidationFailureRejectsWithGenericReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")

	// Restriction without scopes is malformed.
	req, err := f.orch.Submit(ctx, rights.TypeRestriction, &subjectID, "ada@example.com", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	processed, err := f.orch.Process(ctx, req.ID)
	if !errors.Is(err, rights.ErrInvalidDetails) {
		t.Fatalf("err = %v, want ErrInvalidDetails", err)
	}
	if processed.Status != rights.StatusRejected {
		t.Fatalf("status = %s, want rejected", processed.Status)
	}
	if strings.Contains(processed.RejectionReason, "scope") {
		t.Fatalf("rejection reason leaks internals: %q", processed.RejectionReason)
	}
	// Full detail lives in the processing log only.
	var logged bool
	for _, entry := range processed.ProcessingLog {
		if strings.Contains(entry.Detail, "scopes") {
			logged = true
		}
	}
	if !logged {
		t.Fatal("processing log missing failure detail")
	}
}

func TestTransientFailureStaysRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")
	f.mem.AddDocument(subjectID, "doc")

	req, err := f.orch.Submit(ctx, rights.TypeErasure, &subjectID, "ada@example.com", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.mem.FailEntity = "documents"
	processed, err := f.orch.Process(ctx, req.ID)
	if !errors.Is(err, erasure.ErrCascadeFailure) {
		t.Fatalf("err = %v, want ErrCascadeFailure", err)
	}
	if processed.Status != rights.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", processed.Status)
	}

	f.mem.FailEntity = ""
	retried, err := f.orch.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != rights.StatusCompleted {
		t.Fatalf("status = %s after retry", retried.Status)
	}
}

func TestObjectionDisablesMarketingDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")
	f.mem.AddDocument(subjectID, "doc")

	req, err := f.orch.Submit(ctx, rights.TypeObjection, &subjectID, "ada@example.com", map[string]any{"scopes": []string{"marketing"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Process(ctx, req.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	sub, err := f.mem.Subjects().Get(ctx, subjectID)
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if !sub.Settings.Objected.Marketing {
		t.Fatal("marketing scope not objected")
	}
	if sub.Settings.MarketingEmails {
		t.Fatal("marketing objection did not disable delivery")
	}
	// Objection never deletes data.
	docs, err := f.mem.Reader().Documents(ctx, subjectID)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d after objection, want 1", len(docs))
	}
}

func TestRectificationUpdatesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := f.mem.AddSubject("ada@example.com", "Ada")

	req, err := f.orch.Submit(ctx, rights.TypeRectification, &subjectID, "ada@example.com", map[string]any{"name": "Ada Lovelace"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Process(ctx, req.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	sub, err := f.mem.Subjects().Get(ctx, subjectID)
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if sub.Name != "Ada Lovelace" {
		t.Fatalf("name = %q", sub.Name)
	}
	if sub.Email != "ada@example.com" {
		t.Fatalf("email changed unexpectedly: %q", sub.Email)
	}
}

func TestExpireOverdueRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.orch.Submit(ctx, rights.TypeAccess, nil, "a@example.com", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Not yet overdue.
	expired, err := f.orch.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0", expired)
	}

	// Backdate the deadline and sweep again.
	req.DueAt = time.Now().UTC().Add(-24 * time.Hour)
	if err := f.mem.Rights().Update(ctx, req); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	expired, err = f.orch.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	fetched, err := f.orch.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Status != rights.StatusExpired {
		t.Fatalf("status = %s, want expired", fetched.Status)
	}
}

// gatedReader parks the first export inside AccountInfo so a concurrent
// request for the same subject can be raced against it.
type gatedReader struct {
	export.Reader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) AccountInfo(ctx context.Context, subjectID string) (map[string]any, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Reader.AccountInfo(ctx, subjectID)
}

func TestProcessSerializesPerSubject(t *testing.T) {
	mem := storage.NewMemory()
	cryptoSvc, err := crypto.New("test-secret")
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	signer, err := export.NewSigner("test-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	gate := &gatedReader{
		Reader:  mem.Reader(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	pipe := export.NewPipeline(gate, mem.Artifacts(), cryptoSvc, signer, t.TempDir(), 30*24*time.Hour, 24*time.Hour)
	orch := rights.NewOrchestrator(mem.Rights(), mem.Subjects(), erasure.NewEngine(mem.Erasure()), pipe,
		email.New(config.Config{}), mem.Audit(), metrics.New(), rights.Options{
			SLA:            30 * 24 * time.Hour,
			ProcessTimeout: time.Minute,
			DownloadURL:    "http://localhost:8080/api/v1/exports/download",
		})

	ctx := context.Background()
	subjectID := mem.AddSubject("ada@example.com", "Ada")
	mem.AddDocument(subjectID, "doc")

	exportReq, err := orch.Submit(ctx, rights.TypeAccess, &subjectID, "ada@example.com", nil)
	if err != nil {
		t.Fatalf("submit export: %v", err)
	}
	eraseReq, err := orch.Submit(ctx, rights.TypeErasure, &subjectID, "ada@example.com", nil)
	if err != nil {
		t.Fatalf("submit erasure: %v", err)
	}

	exportDone := make(chan error, 1)
	go func() {
		_, err := orch.Process(ctx, exportReq.ID)
		exportDone <- err
	}()
	<-gate.entered

	eraseDone := make(chan error, 1)
	go func() {
		_, err := orch.Process(ctx, eraseReq.ID)
		eraseDone <- err
	}()

	// With the export parked mid-aggregation, the erasure for the same
	// subject must wait for the subject lock.
	select {
	case <-eraseDone:
		t.Fatal("erasure ran while an export for the same subject was mid-aggregation")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	if err := <-exportDone; err != nil {
		t.Fatalf("export process: %v", err)
	}
	if err := <-eraseDone; err != nil {
		t.Fatalf("erasure process: %v", err)
	}

	got, err := orch.Get(ctx, exportReq.ID)
	if err != nil {
		t.Fatalf("get export request: %v", err)
	}
	if got.Status != rights.StatusCompleted {
		t.Fatalf("export status = %s, want completed", got.Status)
	}
	if _, err := mem.Subjects().Get(ctx, subjectID); !errors.Is(err, subject.ErrNotFound) {
		t.Fatalf("subject lookup after erasure = %v, want subject.ErrNotFound", err)
	}
}
