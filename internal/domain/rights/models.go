package rights

import (
	"errors"
	"time"
)

type RequestType string

const (
	TypeAccess        RequestType = "access"
	TypeRectification RequestType = "rectification"
	TypeErasure       RequestType = "erasure"
	TypeRestriction   RequestType = "restriction"
	TypePortability   RequestType = "portability"
	TypeObjection     RequestType = "objection"
)

func ValidType(t RequestType) bool {
	switch t {
	case TypeAccess, TypeRectification, TypeErasure, TypeRestriction, TypePortability, TypeObjection:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Terminal reports whether a status can no longer change. Processing a
// terminal request is a no-op.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var (
	ErrNotFound       = errors.New("rights request not found")
	ErrInvalidType    = errors.New("invalid rights request type")
	ErrMissingSubject = errors.New("rights request has no subject")
)

// LogEntry is one structured line of a request's processing history. The log
// is internal: it carries full error detail that the requestor never sees.
type LogEntry struct {
	At     time.Time `json:"at"`
	Step   string    `json:"step"`
	Detail string    `json:"detail,omitempty"`
}

// RightsRequest is the durable record of one data-subject request. Rows are
// never deleted; erasing the subject nulls SubjectID and keeps the row for
// audit.
type RightsRequest struct {
	ID              string         `json:"id"`
	Type            RequestType    `json:"type"`
	SubjectID       *string        `json:"subjectId"`
	RequestorEmail  string         `json:"requestorEmail"`
	Status          Status         `json:"status"`
	Priority        string         `json:"priority"`
	DueAt           time.Time      `json:"dueAt"`
	RequestDetails  map[string]any `json:"requestDetails,omitempty"`
	ResponseAt      *time.Time     `json:"responseAt,omitempty"`
	ResponseMethod  string         `json:"responseMethod,omitempty"`
	ResponseContent map[string]any `json:"responseContent,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	ProcessingLog   []LogEntry     `json:"processingLog,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (r *RightsRequest) appendLog(at time.Time, step, detail string) {
	r.ProcessingLog = append(r.ProcessingLog, LogEntry{At: at, Step: step, Detail: detail})
}

// Overdue reports whether the request missed its deadline while still open.
func (r *RightsRequest) Overdue(now time.Time) bool {
	return (r.Status == StatusPending || r.Status == StatusInProgress) && r.DueAt.Before(now)
}

func typePriority(t RequestType) string {
	if t == TypeErasure {
		return PriorityHigh
	}
	return PriorityNormal
}
