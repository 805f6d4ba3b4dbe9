package rights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"privacyd/internal/domain/erasure"
	"privacyd/internal/domain/export"
	"privacyd/internal/domain/subject"
	"privacyd/internal/platform/email"
	"privacyd/internal/platform/metrics"
)

// ErrInvalidDetails marks malformed request details. It rejects the request
// instead of leaving it retryable.
var ErrInvalidDetails = errors.New("invalid request details")

type StoreAPI interface {
	Insert(ctx context.Context, req *RightsRequest) error
	Get(ctx context.Context, id string) (*RightsRequest, error)
	Update(ctx context.Context, req *RightsRequest) error
	List(ctx context.Context, status Status, limit, offset int) ([]*RightsRequest, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*RightsRequest, error)
	CountOverdue(ctx context.Context, now time.Time) (int, error)
}

// Auditor records privacy-relevant actions. Failures are logged, never
// propagated: auditing must not block request processing.
type Auditor interface {
	Record(ctx context.Context, subjectID *string, action string, details map[string]any) error
}

// Options carries the tunables the orchestrator needs from configuration.
type Options struct {
	SLA            time.Duration
	ProcessTimeout time.Duration
	EncryptExports bool
	DownloadURL    string
}

// Orchestrator owns the rights-request state machine. All request mutation
// goes through it; stores never change status on their own.
type Orchestrator struct {
	store    StoreAPI
	subjects subject.StoreAPI
	eraser   *erasure.Engine
	exports  *export.Pipeline
	notifier email.Notifier
	audit    Auditor
	metrics  *metrics.Collector
	opts     Options
	locks    keyedMutex
	now      func() time.Time
}

func NewOrchestrator(store StoreAPI, subjects subject.StoreAPI, eraser *erasure.Engine, exports *export.Pipeline, notifier email.Notifier, audit Auditor, collector *metrics.Collector, opts Options) *Orchestrator {
	return &Orchestrator{
		store:    store,
		subjects: subjects,
		eraser:   eraser,
		exports:  exports,
		notifier: notifier,
		audit:    audit,
		metrics:  collector,
		opts:     opts,
		now:      time.Now,
	}
}

// Submit validates the type and persists a pending request. The deadline is
// fixed here and never recomputed.
func (o *Orchestrator) Submit(ctx context.Context, reqType RequestType, subjectID *string, requestorEmail string, details map[string]any) (*RightsRequest, error) {
	if !ValidType(reqType) {
		return nil, ErrInvalidType
	}
	if requestorEmail == "" {
		return nil, fmt.Errorf("%w: requestor email required", ErrInvalidDetails)
	}

	now := o.now().UTC()
	req := &RightsRequest{
		ID:             uuid.NewString(),
		Type:           reqType,
		SubjectID:      subjectID,
		RequestorEmail: requestorEmail,
		Status:         StatusPending,
		Priority:       typePriority(reqType),
		DueAt:          now.Add(o.opts.SLA),
		RequestDetails: details,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	req.appendLog(now, "submitted", string(reqType))

	if err := o.store.Insert(ctx, req); err != nil {
		return nil, err
	}
	o.recordAudit(ctx, subjectID, "rights_request_submitted", map[string]any{"requestId": req.ID, "type": string(reqType)})
	return req, nil
}

func (o *Orchestrator) Get(ctx context.Context, requestID string) (*RightsRequest, error) {
	return o.store.Get(ctx, requestID)
}

func (o *Orchestrator) List(ctx context.Context, status Status, limit, offset int) ([]*RightsRequest, error) {
	return o.store.List(ctx, status, limit, offset)
}

// Process runs the handler for a pending request. Terminal requests are
// returned unchanged; concurrent calls for the same subject and type
// serialize on a keyed lock so at most one run is in flight per pair.
func (o *Orchestrator) Process(ctx context.Context, requestID string) (*RightsRequest, error) {
	req, err := o.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, nil
	}

	mu := o.locks.lock(lockKey(req))
	defer mu.Unlock()

	// Re-read under the lock: a concurrent run may have finished this
	// request while we waited.
	req, err = o.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.ProcessTimeout)
	defer cancel()

	now := o.now().UTC()
	req.Status = StatusInProgress
	req.UpdatedAt = now
	req.appendLog(now, "processing_started", "")
	if err := o.store.Update(ctx, req); err != nil {
		return nil, err
	}

	method, content, handlerErr := o.dispatch(ctx, req)
	now = o.now().UTC()
	req.UpdatedAt = now

	if handlerErr != nil {
		if isValidationError(handlerErr) {
			req.Status = StatusRejected
			req.RejectionReason = "request could not be fulfilled as submitted"
			req.appendLog(now, "rejected", handlerErr.Error())
		} else {
			// Retryable: the request stays in_progress and a later Process
			// call picks it up again.
			req.appendLog(now, "handler_failed", handlerErr.Error())
			slog.Error("rights request handler failed", "requestId", req.ID, "type", req.Type, "err", handlerErr)
		}
		if err := o.store.Update(ctx, req); err != nil {
			slog.Error("rights request update failed after handler error", "requestId", req.ID, "err", err)
		}
		o.recordMetric(req)
		return req, handlerErr
	}

	req.Status = StatusCompleted
	req.ResponseAt = &now
	req.ResponseMethod = method
	req.ResponseContent = content
	req.appendLog(now, "completed", method)
	if err := o.store.Update(ctx, req); err != nil {
		return nil, err
	}
	o.recordMetric(req)
	o.recordAudit(ctx, req.SubjectID, "rights_request_completed", map[string]any{"requestId": req.ID, "type": string(req.Type)})
	return req, nil
}

// ExpireOverdue marks open requests past their deadline as expired. Used by
// the scheduled sweep when deadline expiry is enabled.
func (o *Orchestrator) ExpireOverdue(ctx context.Context) (int, error) {
	now := o.now().UTC()
	overdue, err := o.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range overdue {
		req.Status = StatusExpired
		req.UpdatedAt = now
		req.appendLog(now, "expired", "deadline passed before resolution")
		if err := o.store.Update(ctx, req); err != nil {
			slog.Warn("expire overdue request failed", "requestId", req.ID, "err", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req *RightsRequest) (method string, content map[string]any, err error) {
	switch req.Type {
	case TypeAccess, TypePortability:
		return o.handleExport(ctx, req)
	case TypeErasure:
		return o.handleErasure(ctx, req)
	case TypeRectification:
		return o.handleRectification(ctx, req)
	case TypeRestriction:
		return o.handleScopes(ctx, req, subject.ApplyRestriction, "restriction_applied")
	case TypeObjection:
		return o.handleScopes(ctx, req, subject.ApplyObjection, "objection_applied")
	default:
		return "", nil, ErrInvalidType
	}
}

func (o *Orchestrator) handleExport(ctx context.Context, req *RightsRequest) (string, map[string]any, error) {
	if req.SubjectID == nil {
		return "", nil, ErrMissingSubject
	}
	format := export.Format(detailString(req.RequestDetails, "format"))
	if format == "" {
		format = export.FormatJSON
	}
	artifact, err := o.exports.Generate(ctx, *req.SubjectID, req.ID, format, export.Options{
		Encrypt:         o.opts.EncryptExports,
		IncludeMetadata: true,
	})
	if err != nil {
		return "", nil, err
	}
	token, expiresAt, err := o.exports.IssueDownloadToken(artifact)
	if err != nil {
		return "", nil, err
	}

	link := o.opts.DownloadURL + "?token=" + url.QueryEscape(token)
	hours := int(time.Until(expiresAt).Hours())
	if err := o.notifier.NotifyExportReady(ctx, req.RequestorEmail, link, hours); err != nil {
		slog.Warn("export ready notification failed", "requestId", req.ID, "err", err)
	}

	return "download_link", map[string]any{
		"artifactId":  artifact.ID,
		"fileName":    artifact.FileName,
		"format":      string(artifact.Format),
		"encrypted":   artifact.Encrypted,
		"downloadUrl": link,
		"expiresAt":   expiresAt.Format(time.RFC3339),
	}, nil
}

func (o *Orchestrator) handleErasure(ctx context.Context, req *RightsRequest) (string, map[string]any, error) {
	if req.SubjectID == nil {
		return "", nil, ErrMissingSubject
	}
	result, err := o.eraser.Erase(ctx, *req.SubjectID, detailString(req.RequestDetails, "reason"))
	if err != nil {
		return "", nil, err
	}
	// The cascade detached this row's subject reference in the database;
	// mirror that so the final update does not restore it.
	req.SubjectID = nil

	counts := make(map[string]any, len(result.DeletedCounts))
	for entity, n := range result.DeletedCounts {
		counts[entity] = n
	}
	return "erasure_confirmation", map[string]any{
		"deletedCounts": counts,
		"deletedAt":     result.DeletedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (o *Orchestrator) handleRectification(ctx context.Context, req *RightsRequest) (string, map[string]any, error) {
	if req.SubjectID == nil {
		return "", nil, ErrMissingSubject
	}
	name := detailString(req.RequestDetails, "name")
	emailAddr := detailString(req.RequestDetails, "email")
	if name == "" && emailAddr == "" {
		return "", nil, fmt.Errorf("%w: rectification names no fields", ErrInvalidDetails)
	}
	if err := o.subjects.UpdateProfile(ctx, *req.SubjectID, name, emailAddr); err != nil {
		return "", nil, err
	}
	updated := map[string]any{}
	if name != "" {
		updated["name"] = name
	}
	if emailAddr != "" {
		updated["email"] = emailAddr
	}
	return "profile_update", map[string]any{"updatedFields": updated}, nil
}

func (o *Orchestrator) handleScopes(ctx context.Context, req *RightsRequest, apply func(subject.PrivacySettings, []subject.Scope, time.Time) (subject.PrivacySettings, error), method string) (string, map[string]any, error) {
	if req.SubjectID == nil {
		return "", nil, ErrMissingSubject
	}
	scopes := detailScopes(req.RequestDetails)
	if len(scopes) == 0 {
		return "", nil, fmt.Errorf("%w: no scopes named", ErrInvalidDetails)
	}
	at := o.now().UTC()
	settings, err := o.subjects.UpdateSettings(ctx, *req.SubjectID, func(s subject.PrivacySettings) (subject.PrivacySettings, error) {
		return apply(s, scopes, at)
	})
	if err != nil {
		return "", nil, err
	}
	scopeNames := make([]any, len(scopes))
	for i, s := range scopes {
		scopeNames[i] = string(s)
	}
	return method, map[string]any{
		"scopes":          scopeNames,
		"settingsVersion": settings.Version,
	}, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, subjectID *string, action string, details map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(ctx, subjectID, action, details); err != nil {
		slog.Warn("audit record failed", "action", action, "err", err)
	}
}

func (o *Orchestrator) recordMetric(req *RightsRequest) {
	if o.metrics != nil {
		o.metrics.RecordProcessed(string(req.Type), string(req.Status))
	}
}

// isValidationError separates rejections from retryable failures. Anything
// not listed here leaves the request in_progress.
func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrMissingSubject) ||
		errors.Is(err, ErrInvalidDetails) ||
		errors.Is(err, subject.ErrNotFound) ||
		errors.Is(err, subject.ErrInvalidScope) ||
		errors.Is(err, export.ErrInvalidFormat)
}

// lockKey serializes all processing for one subject: an erasure must never
// interleave with an export reading that subject's data. Subjectless
// requests fall back to per-request keys.
func lockKey(req *RightsRequest) string {
	if req.SubjectID == nil {
		return "request|" + req.ID
	}
	return "subject|" + *req.SubjectID
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	if v, ok := details[key].(string); ok {
		return v
	}
	return ""
}

// detailScopes accepts both decoded-JSON ([]any) and native ([]string)
// shapes.
func detailScopes(details map[string]any) []subject.Scope {
	if details == nil {
		return nil
	}
	var out []subject.Scope
	switch raw := details["scopes"].(type) {
	case []string:
		for _, s := range raw {
			out = append(out, subject.Scope(s))
		}
	case []any:
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, subject.Scope(s))
			}
		}
	}
	return out
}
