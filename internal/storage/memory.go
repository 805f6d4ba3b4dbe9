// Package storage provides an in-memory dataset implementing every store
// interface the domain packages consume. It backs unit tests and local
// development; production wiring uses the Postgres stores.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"privacyd/internal/domain/consent"
	"privacyd/internal/domain/erasure"
	"privacyd/internal/domain/export"
	"privacyd/internal/domain/rights"
	"privacyd/internal/domain/subject"
)

type Document struct {
	ID        string
	SubjectID string
	Title     string
}

type Team struct {
	ID      string
	Name    string
	OwnerID *string
}

type TeamMember struct {
	ID        string
	TeamID    string
	SubjectID string
	Role      string
}

type AuditEvent struct {
	ID        string
	SubjectID *string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}

type Breach struct {
	ID            string
	DiscoveredAt  time.Time
	DPARequired   bool
	DPANotifiedAt *time.Time
}

// Memory holds the whole dataset behind one lock. FailEntity injects a
// cascade failure at the named step so rollback behavior is testable.
type Memory struct {
	mu sync.RWMutex

	subjects          map[string]*subject.Subject
	sessions          map[string]string // id -> subject id
	apiKeys           map[string]string // id -> subject id
	apiKeyUsage       map[string]string // id -> api key id
	notificationPrefs map[string]string
	notifications     map[string]string
	userActions       map[string]string
	analyses          map[string]string // id -> subject id
	analysisFindings  map[string]string // id -> analysis id
	documents         map[string]*Document
	teams             map[string]*Team
	teamMembers       map[string]*TeamMember
	alerts            map[string]string
	integrations      map[string]string
	consents          map[string]*consent.Record
	consentOrder      []string
	auditEvents       map[string]*AuditEvent
	artifacts         map[string]*export.Artifact
	requests          map[string]*rights.RightsRequest
	breaches          map[string]*Breach

	FailEntity string
}

func NewMemory() *Memory {
	return &Memory{
		subjects:          map[string]*subject.Subject{},
		sessions:          map[string]string{},
		apiKeys:           map[string]string{},
		apiKeyUsage:       map[string]string{},
		notificationPrefs: map[string]string{},
		notifications:     map[string]string{},
		userActions:       map[string]string{},
		analyses:          map[string]string{},
		analysisFindings:  map[string]string{},
		documents:         map[string]*Document{},
		teams:             map[string]*Team{},
		teamMembers:       map[string]*TeamMember{},
		alerts:            map[string]string{},
		integrations:      map[string]string{},
		consents:          map[string]*consent.Record{},
		auditEvents:       map[string]*AuditEvent{},
		artifacts:         map[string]*export.Artifact{},
		requests:          map[string]*rights.RightsRequest{},
		breaches:          map[string]*Breach{},
	}
}

// Seeding helpers. Each returns the generated id.

func (m *Memory) AddSubject(email, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.subjects[id] = &subject.Subject{
		ID:        id,
		Email:     email,
		Name:      name,
		Settings:  subject.DefaultSettings(),
		CreatedAt: time.Now().UTC(),
	}
	return id
}

func (m *Memory) AddSession(subjectID string) string        { return m.addRow(m.sessions, subjectID) }
func (m *Memory) AddAPIKey(subjectID string) string         { return m.addRow(m.apiKeys, subjectID) }
func (m *Memory) AddAPIKeyUsage(apiKeyID string) string     { return m.addRow(m.apiKeyUsage, apiKeyID) }
func (m *Memory) AddNotification(subjectID string) string   { return m.addRow(m.notifications, subjectID) }
func (m *Memory) AddNotificationPref(subjectID string) string {
	return m.addRow(m.notificationPrefs, subjectID)
}
func (m *Memory) AddUserAction(subjectID string) string  { return m.addRow(m.userActions, subjectID) }
func (m *Memory) AddAnalysis(subjectID string) string    { return m.addRow(m.analyses, subjectID) }
func (m *Memory) AddFinding(analysisID string) string    { return m.addRow(m.analysisFindings, analysisID) }
func (m *Memory) AddAlert(subjectID string) string       { return m.addRow(m.alerts, subjectID) }
func (m *Memory) AddIntegration(subjectID string) string { return m.addRow(m.integrations, subjectID) }

func (m *Memory) addRow(table map[string]string, parent string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	table[id] = parent
	return id
}

func (m *Memory) AddDocument(subjectID, title string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.documents[id] = &Document{ID: id, SubjectID: subjectID, Title: title}
	return id
}

func (m *Memory) AddTeam(name string, ownerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	owner := ownerID
	m.teams[id] = &Team{ID: id, Name: name, OwnerID: &owner}
	return id
}

func (m *Memory) AddTeamMember(teamID, subjectID, role string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.teamMembers[id] = &TeamMember{ID: id, TeamID: teamID, SubjectID: subjectID, Role: role}
	return id
}

func (m *Memory) AddBreach(discoveredAt time.Time, dpaRequired bool, notifiedAt *time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.breaches[id] = &Breach{ID: id, DiscoveredAt: discoveredAt, DPARequired: dpaRequired, DPANotifiedAt: notifiedAt}
	return id
}

func (m *Memory) Team(id string) *Team {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.teams[id]; ok {
		clone := *t
		return &clone
	}
	return nil
}

func (m *Memory) AuditEvents() []AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEvent, 0, len(m.auditEvents))
	for _, evt := range m.auditEvents {
		out = append(out, *evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// snapshot copies every table so a failed transaction can restore the
// dataset wholesale. Cheap at test scale.
type snapshot struct {
	subjects          map[string]*subject.Subject
	sessions          map[string]string
	apiKeys           map[string]string
	apiKeyUsage       map[string]string
	notificationPrefs map[string]string
	notifications     map[string]string
	userActions       map[string]string
	analyses          map[string]string
	analysisFindings  map[string]string
	documents         map[string]*Document
	teams             map[string]*Team
	teamMembers       map[string]*TeamMember
	alerts            map[string]string
	integrations      map[string]string
	consents          map[string]*consent.Record
	consentOrder      []string
	auditEvents       map[string]*AuditEvent
	artifacts         map[string]*export.Artifact
	requests          map[string]*rights.RightsRequest
}

func copyIDMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyPtrMap[T any](src map[string]*T) map[string]*T {
	dst := make(map[string]*T, len(src))
	for k, v := range src {
		clone := *v
		dst[k] = &clone
	}
	return dst
}

func (m *Memory) takeSnapshot() snapshot {
	return snapshot{
		subjects:          copyPtrMap(m.subjects),
		sessions:          copyIDMap(m.sessions),
		apiKeys:           copyIDMap(m.apiKeys),
		apiKeyUsage:       copyIDMap(m.apiKeyUsage),
		notificationPrefs: copyIDMap(m.notificationPrefs),
		notifications:     copyIDMap(m.notifications),
		userActions:       copyIDMap(m.userActions),
		analyses:          copyIDMap(m.analyses),
		analysisFindings:  copyIDMap(m.analysisFindings),
		documents:         copyPtrMap(m.documents),
		teams:             copyPtrMap(m.teams),
		teamMembers:       copyPtrMap(m.teamMembers),
		alerts:            copyIDMap(m.alerts),
		integrations:      copyIDMap(m.integrations),
		consents:          copyPtrMap(m.consents),
		consentOrder:      append([]string(nil), m.consentOrder...),
		auditEvents:       copyPtrMap(m.auditEvents),
		artifacts:         copyPtrMap(m.artifacts),
		requests:          copyPtrMap(m.requests),
	}
}

func (m *Memory) restore(s snapshot) {
	m.subjects = s.subjects
	m.sessions = s.sessions
	m.apiKeys = s.apiKeys
	m.apiKeyUsage = s.apiKeyUsage
	m.notificationPrefs = s.notificationPrefs
	m.notifications = s.notifications
	m.userActions = s.userActions
	m.analyses = s.analyses
	m.analysisFindings = s.analysisFindings
	m.documents = s.documents
	m.teams = s.teams
	m.teamMembers = s.teamMembers
	m.alerts = s.alerts
	m.integrations = s.integrations
	m.consents = s.consents
	m.consentOrder = s.consentOrder
	m.auditEvents = s.auditEvents
	m.artifacts = s.artifacts
	m.requests = s.requests
}

// Subjects returns a view implementing subject.StoreAPI.
func (m *Memory) Subjects() *SubjectStore { return &SubjectStore{m: m} }

type SubjectStore struct{ m *Memory }

func (s *SubjectStore) Get(_ context.Context, subjectID string) (*subject.Subject, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sub, ok := s.m.subjects[subjectID]
	if !ok {
		return nil, subject.ErrNotFound
	}
	clone := *sub
	return &clone, nil
}

func (s *SubjectStore) UpdateSettings(_ context.Context, subjectID string, apply func(subject.PrivacySettings) (subject.PrivacySettings, error)) (subject.PrivacySettings, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub, ok := s.m.subjects[subjectID]
	if !ok {
		return subject.PrivacySettings{}, subject.ErrNotFound
	}
	next, err := apply(sub.Settings)
	if err != nil {
		return subject.PrivacySettings{}, err
	}
	sub.Settings = next
	return next, nil
}

func (s *SubjectStore) UpdateProfile(_ context.Context, subjectID, name, email string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub, ok := s.m.subjects[subjectID]
	if !ok {
		return subject.ErrNotFound
	}
	if name != "" {
		sub.Name = name
	}
	if email != "" {
		sub.Email = email
	}
	return nil
}

// Consents returns a view implementing consent.StoreAPI.
func (m *Memory) Consents() *ConsentStore { return &ConsentStore{m: m} }

type ConsentStore struct{ m *Memory }

func (s *ConsentStore) Insert(_ context.Context, rec consent.Record) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := rec
	s.m.consents[rec.ID] = &clone
	s.m.consentOrder = append(s.m.consentOrder, rec.ID)
	return nil
}

// RunInTx snapshots the dataset and restores it if fn fails, so the ledger
// row and the settings overlay never diverge.
func (s *ConsentStore) RunInTx(_ context.Context, fn func(tx consent.TxAPI) error) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	snap := s.m.takeSnapshot()
	if err := fn(&consentTx{m: s.m}); err != nil {
		s.m.restore(snap)
		return err
	}
	return nil
}

type consentTx struct{ m *Memory }

func (t *consentTx) Insert(_ context.Context, rec consent.Record) error {
	if t.m.FailEntity == "consent_records" {
		return fmt.Errorf("injected failure at consent_records")
	}
	clone := rec
	t.m.consents[rec.ID] = &clone
	t.m.consentOrder = append(t.m.consentOrder, rec.ID)
	return nil
}

func (t *consentTx) UpdateSettings(_ context.Context, subjectID string, apply func(subject.PrivacySettings) (subject.PrivacySettings, error)) (subject.PrivacySettings, error) {
	sub, ok := t.m.subjects[subjectID]
	if !ok {
		return subject.PrivacySettings{}, subject.ErrNotFound
	}
	next, err := apply(sub.Settings)
	if err != nil {
		return subject.PrivacySettings{}, err
	}
	sub.Settings = next
	return next, nil
}

func (s *ConsentStore) ListBySubject(_ context.Context, subjectID string) ([]consent.Record, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []consent.Record
	for _, id := range s.m.consentOrder {
		rec := s.m.consents[id]
		if rec.SubjectID == subjectID {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValidFrom.After(out[j].ValidFrom) })
	return out, nil
}

func (s *ConsentStore) Latest(_ context.Context, subjectID, consentType string) (*consent.Record, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var best *consent.Record
	for _, id := range s.m.consentOrder {
		rec := s.m.consents[id]
		if rec.SubjectID != subjectID || rec.ConsentType != consentType {
			continue
		}
		if best == nil || !rec.ValidFrom.Before(best.ValidFrom) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *ConsentStore) CountExpiredActive(_ context.Context, now time.Time) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	latest := map[string]*consent.Record{}
	for _, id := range s.m.consentOrder {
		rec := s.m.consents[id]
		key := rec.SubjectID + "|" + rec.ConsentType
		if prev, ok := latest[key]; !ok || !rec.ValidFrom.Before(prev.ValidFrom) {
			latest[key] = rec
		}
	}
	count := 0
	for _, rec := range latest {
		if rec.Given && rec.ValidUntil != nil && rec.ValidUntil.Before(now) {
			count++
		}
	}
	return count, nil
}

// Rights returns a view implementing rights.StoreAPI.
func (m *Memory) Rights() *RightsStore { return &RightsStore{m: m} }

type RightsStore struct{ m *Memory }

func (s *RightsStore) Insert(_ context.Context, req *rights.RightsRequest) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := cloneRequest(req)
	s.m.requests[req.ID] = clone
	return nil
}

func (s *RightsStore) Get(_ context.Context, id string) (*rights.RightsRequest, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	req, ok := s.m.requests[id]
	if !ok {
		return nil, rights.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *RightsStore) Update(_ context.Context, req *rights.RightsRequest) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.requests[req.ID]; !ok {
		return rights.ErrNotFound
	}
	s.m.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *RightsStore) List(_ context.Context, status rights.Status, limit, offset int) ([]*rights.RightsRequest, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*rights.RightsRequest
	for _, req := range s.m.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *RightsStore) ListOverdue(_ context.Context, now time.Time) ([]*rights.RightsRequest, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*rights.RightsRequest
	for _, req := range s.m.requests {
		if req.Overdue(now) {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *RightsStore) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.ListOverdue(ctx, now)
	return len(overdue), err
}

func cloneRequest(req *rights.RightsRequest) *rights.RightsRequest {
	clone := *req
	clone.ProcessingLog = append([]rights.LogEntry(nil), req.ProcessingLog...)
	if req.RequestDetails != nil {
		clone.RequestDetails = cloneMap(req.RequestDetails)
	}
	if req.ResponseContent != nil {
		clone.ResponseContent = cloneMap(req.ResponseContent)
	}
	return &clone
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Artifacts returns a view implementing export.ArtifactStore.
func (m *Memory) Artifacts() *ArtifactStore { return &ArtifactStore{m: m} }

type ArtifactStore struct{ m *Memory }

func (s *ArtifactStore) Insert(_ context.Context, a *export.Artifact) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *a
	s.m.artifacts[a.ID] = &clone
	return nil
}

func (s *ArtifactStore) Get(_ context.Context, id string) (*export.Artifact, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.artifacts[id]
	if !ok {
		return nil, export.ErrArtifactNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *ArtifactStore) ListExpired(_ context.Context, now time.Time) ([]*export.Artifact, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*export.Artifact
	for _, a := range s.m.artifacts {
		if a.Status == export.StatusCompleted && !now.Before(a.ExpiresAt) {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *ArtifactStore) MarkExpired(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if a, ok := s.m.artifacts[id]; ok {
		a.Status = export.StatusExpired
	}
	return nil
}

// Breaches returns a view implementing compliance.BreachSource.
func (m *Memory) Breaches() *BreachStore { return &BreachStore{m: m} }

type BreachStore struct{ m *Memory }

func (s *BreachStore) CountOverdueNotifications(_ context.Context, deadline time.Time) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	count := 0
	for _, b := range s.m.breaches {
		if b.DPARequired && b.DPANotifiedAt == nil && b.DiscoveredAt.Before(deadline) {
			count++
		}
	}
	return count, nil
}

// Audit returns a view implementing rights.Auditor.
func (m *Memory) Audit() *AuditStore { return &AuditStore{m: m} }

type AuditStore struct{ m *Memory }

func (s *AuditStore) Record(_ context.Context, subjectID *string, action string, details map[string]any) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	id := uuid.NewString()
	var subRef *string
	if subjectID != nil {
		v := *subjectID
		subRef = &v
	}
	s.m.auditEvents[id] = &AuditEvent{
		ID:        id,
		SubjectID: subRef,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// Erasure returns a view implementing erasure.StoreAPI.
func (m *Memory) Erasure() *ErasureStore { return &ErasureStore{m: m} }

type ErasureStore struct{ m *Memory }

func (s *ErasureStore) SubjectExists(_ context.Context, subjectID string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	_, ok := s.m.subjects[subjectID]
	return ok, nil
}

func (s *ErasureStore) ArtifactPaths(_ context.Context, subjectID string) ([]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var paths []string
	for _, a := range s.m.artifacts {
		req, ok := s.m.requests[a.RequestID]
		if !ok || req.SubjectID == nil || *req.SubjectID != subjectID {
			continue
		}
		if a.FilePath != "" {
			paths = append(paths, a.FilePath)
		}
	}
	return paths, nil
}

// RunInTx snapshots the dataset, runs the cascade, and restores the snapshot
// if any step fails, so partial erasure is never observable.
func (s *ErasureStore) RunInTx(_ context.Context, fn func(erasure.Tx) error) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	snap := s.m.takeSnapshot()
	if err := fn(&memTx{m: s.m}); err != nil {
		s.m.restore(snap)
		return err
	}
	return nil
}

type memTx struct{ m *Memory }

func (t *memTx) Apply(_ context.Context, step erasure.Step, subjectID string) (int64, error) {
	if t.m.FailEntity == step.Entity {
		return 0, fmt.Errorf("injected failure at %s", step.Entity)
	}
	m := t.m
	switch step.Entity {
	case "sessions":
		return deleteByParent(m.sessions, subjectID), nil
	case "api_key_usage":
		keys := parentSet(m.apiKeys, subjectID)
		var n int64
		for id, keyID := range m.apiKeyUsage {
			if keys[keyID] {
				delete(m.apiKeyUsage, id)
				n++
			}
		}
		return n, nil
	case "api_keys":
		return deleteByParent(m.apiKeys, subjectID), nil
	case "notification_preferences":
		return deleteByParent(m.notificationPrefs, subjectID), nil
	case "notifications":
		return deleteByParent(m.notifications, subjectID), nil
	case "user_actions":
		return deleteByParent(m.userActions, subjectID), nil
	case "analysis_findings":
		owned := parentSet(m.analyses, subjectID)
		var n int64
		for id, analysisID := range m.analysisFindings {
			if owned[analysisID] {
				delete(m.analysisFindings, id)
				n++
			}
		}
		return n, nil
	case "analyses":
		return deleteByParent(m.analyses, subjectID), nil
	case "documents":
		var n int64
		for id, doc := range m.documents {
			if doc.SubjectID == subjectID {
				delete(m.documents, id)
				n++
			}
		}
		return n, nil
	case "team_members":
		var n int64
		for id, member := range m.teamMembers {
			if member.SubjectID == subjectID {
				delete(m.teamMembers, id)
				n++
			}
		}
		return n, nil
	case "teams":
		var n int64
		for _, team := range m.teams {
			if team.OwnerID != nil && *team.OwnerID == subjectID {
				team.OwnerID = nil
				n++
			}
		}
		return n, nil
	case "alerts":
		return deleteByParent(m.alerts, subjectID), nil
	case "consent_records":
		var n int64
		for _, rec := range m.consents {
			if rec.SubjectID == subjectID {
				rec.SubjectID = ""
				rec.Evidence = ""
				rec.WithdrawalEvidence = ""
				rec.Method = ""
				n++
			}
		}
		return n, nil
	case "integrations":
		return deleteByParent(m.integrations, subjectID), nil
	case "audit_events":
		var n int64
		for _, evt := range m.auditEvents {
			if evt.SubjectID != nil && *evt.SubjectID == subjectID {
				evt.SubjectID = nil
				evt.Details = nil
				n++
			}
		}
		return n, nil
	case "export_artifacts":
		var n int64
		for _, a := range m.artifacts {
			req, ok := m.requests[a.RequestID]
			if ok && req.SubjectID != nil && *req.SubjectID == subjectID {
				a.Status = export.StatusExpired
				a.FilePath = ""
				n++
			}
		}
		return n, nil
	case "rights_requests":
		var n int64
		for _, req := range m.requests {
			if req.SubjectID != nil && *req.SubjectID == subjectID {
				req.SubjectID = nil
				n++
			}
		}
		return n, nil
	case "subjects":
		if _, ok := m.subjects[subjectID]; !ok {
			return 0, nil
		}
		delete(m.subjects, subjectID)
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown cascade entity %q", step.Entity)
	}
}

func deleteByParent(table map[string]string, parent string) int64 {
	var n int64
	for id, p := range table {
		if p == parent {
			delete(table, id)
			n++
		}
	}
	return n
}

func parentSet(table map[string]string, parent string) map[string]bool {
	set := map[string]bool{}
	for id, p := range table {
		if p == parent {
			set[id] = true
		}
	}
	return set
}

// Reader returns a view implementing export.Reader.
func (m *Memory) Reader() *ExportReader { return &ExportReader{m: m} }

type ExportReader struct{ m *Memory }

func (r *ExportReader) AccountInfo(_ context.Context, subjectID string) (map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	sub, ok := r.m.subjects[subjectID]
	if !ok {
		return nil, subject.ErrNotFound
	}
	settings, err := json.Marshal(sub.Settings)
	if err != nil {
		return nil, err
	}
	var settingsMap map[string]any
	if err := json.Unmarshal(settings, &settingsMap); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":               sub.ID,
		"email":            sub.Email,
		"name":             sub.Name,
		"privacy_settings": settingsMap,
		"created_at":       sub.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (r *ExportReader) idRows(table map[string]string, parent string) []map[string]any {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []map[string]any
	for id, p := range table {
		if p == parent {
			out = append(out, map[string]any{"id": id})
		}
	}
	return out
}

func (r *ExportReader) Documents(_ context.Context, subjectID string) ([]map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []map[string]any
	for _, doc := range r.m.documents {
		if doc.SubjectID == subjectID {
			out = append(out, map[string]any{"id": doc.ID, "title": doc.Title})
		}
	}
	return out, nil
}

func (r *ExportReader) Analyses(_ context.Context, subjectID string) ([]map[string]any, error) {
	return r.idRows(r.m.analyses, subjectID), nil
}

func (r *ExportReader) Actions(_ context.Context, subjectID string) ([]map[string]any, error) {
	return r.idRows(r.m.userActions, subjectID), nil
}

func (r *ExportReader) Notifications(_ context.Context, subjectID string) ([]map[string]any, error) {
	return r.idRows(r.m.notifications, subjectID), nil
}

func (r *ExportReader) NotificationPreferences(_ context.Context, subjectID string) ([]map[string]any, error) {
	return r.idRows(r.m.notificationPrefs, subjectID), nil
}

func (r *ExportReader) APIUsage(_ context.Context, subjectID string) ([]map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	keys := parentSet(r.m.apiKeys, subjectID)
	var out []map[string]any
	for id, keyID := range r.m.apiKeyUsage {
		if keys[keyID] {
			out = append(out, map[string]any{"id": id, "api_key_id": keyID})
		}
	}
	return out, nil
}

func (r *ExportReader) TeamMemberships(_ context.Context, subjectID string) ([]map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []map[string]any
	for _, member := range r.m.teamMembers {
		if member.SubjectID != subjectID {
			continue
		}
		row := map[string]any{"team_id": member.TeamID, "role": member.Role}
		if team, ok := r.m.teams[member.TeamID]; ok {
			row["team_name"] = team.Name
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *ExportReader) ConsentHistory(_ context.Context, subjectID string) ([]map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []map[string]any
	for _, id := range r.m.consentOrder {
		rec := r.m.consents[id]
		if rec.SubjectID != subjectID {
			continue
		}
		out = append(out, map[string]any{
			"id":           rec.ID,
			"consent_type": rec.ConsentType,
			"given":        rec.Given,
			"purposes":     rec.Purposes,
			"valid_from":   rec.ValidFrom.Format(time.RFC3339),
		})
	}
	return out, nil
}

func (r *ExportReader) Integrations(_ context.Context, subjectID string) ([]map[string]any, error) {
	return r.idRows(r.m.integrations, subjectID), nil
}

func (r *ExportReader) AuditTrail(_ context.Context, subjectID string) ([]map[string]any, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []map[string]any
	for _, evt := range r.m.auditEvents {
		if evt.SubjectID != nil && *evt.SubjectID == subjectID {
			out = append(out, map[string]any{"id": evt.ID, "action": evt.Action})
		}
	}
	return out, nil
}
