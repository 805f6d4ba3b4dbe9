package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
)

func ValidFormat(f Format) bool {
	switch f {
	case FormatJSON, FormatXML, FormatCSV:
		return true
	}
	return false
}

const (
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusFailed    = "failed"
)

var (
	ErrInvalidFormat       = errors.New("invalid export format")
	ErrTokenInvalid        = errors.New("download token invalid")
	ErrTokenExpired        = errors.New("download token expired")
	ErrArtifactUnavailable = errors.New("export artifact no longer available")
	ErrArtifactNotFound    = errors.New("export artifact not found")
)

// Artifact is the persisted record of one generated export file. The file
// itself is opaque on durable storage; encrypted artifacts carry a
// self-describing envelope so only the shared secret is needed to decrypt.
type Artifact struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	Format    Format    `json:"format"`
	Encrypted bool      `json:"encrypted"`
	FilePath  string    `json:"filePath"`
	FileName  string    `json:"fileName"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Status    string    `json:"status"`
}

type Options struct {
	Encrypt         bool
	IncludeMetadata bool
}
