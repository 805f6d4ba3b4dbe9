package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"privacyd/internal/platform/crypto"
)

// ArtifactStore persists export artifact records.
type ArtifactStore interface {
	Insert(ctx context.Context, artifact *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Artifact, error)
	MarkExpired(ctx context.Context, id string) error
}

// Pipeline generates export files, hands out download tokens for them, and
// sweeps expired artifacts off disk.
type Pipeline struct {
	reader    Reader
	artifacts ArtifactStore
	crypto    *crypto.Service
	signer    *Signer
	dir       string
	retention time.Duration
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewPipeline(reader Reader, artifacts ArtifactStore, cryptoSvc *crypto.Service, signer *Signer, dir string, retention, tokenTTL time.Duration) *Pipeline {
	return &Pipeline{
		reader:    reader,
		artifacts: artifacts,
		crypto:    cryptoSvc,
		signer:    signer,
		dir:       dir,
		retention: retention,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// Generate aggregates the subject's data, serializes it, optionally encrypts
// the result, and persists one artifact record per completed file. Encryption
// availability is checked before anything is written so a misconfigured key
// never produces a plaintext file.
func (p *Pipeline) Generate(ctx context.Context, subjectID, requestID string, format Format, opts Options) (*Artifact, error) {
	if !ValidFormat(format) {
		return nil, ErrInvalidFormat
	}
	if opts.Encrypt && !p.crypto.Configured() {
		return nil, crypto.ErrKeyUnavailable
	}

	agg, err := BuildAggregate(ctx, p.reader, subjectID)
	if err != nil {
		return nil, fmt.Errorf("aggregate subject data: %w", err)
	}
	payload, err := Serialize(agg.Document(opts.IncludeMetadata), format)
	if err != nil {
		return nil, fmt.Errorf("serialize export: %w", err)
	}

	fileName := fmt.Sprintf("export-%s.%s", requestID, format)
	if opts.Encrypt {
		payload, err = p.crypto.Encrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("encrypt export: %w", err)
		}
		fileName += ".enc"
	}

	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	filePath := filepath.Join(p.dir, fileName)
	if err := os.WriteFile(filePath, payload, 0o600); err != nil {
		return nil, fmt.Errorf("write export file: %w", err)
	}

	now := p.now().UTC()
	artifact := &Artifact{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Format:    format,
		Encrypted: opts.Encrypt,
		FilePath:  filePath,
		FileName:  fileName,
		SizeBytes: int64(len(payload)),
		CreatedAt: now,
		ExpiresAt: now.Add(p.retention),
		Status:    StatusCompleted,
	}
	if err := p.artifacts.Insert(ctx, artifact); err != nil {
		// The record is the source of truth; an orphaned file is swept by
		// retention, a recorded artifact without a file is not.
		if rmErr := os.Remove(filePath); rmErr != nil {
			slog.Warn("orphaned export file left behind", "path", filePath, "err", rmErr)
		}
		return nil, fmt.Errorf("record export artifact: %w", err)
	}
	return artifact, nil
}

// IssueDownloadToken signs a bearer token for the artifact. The token is
// reusable until it expires; expiry is capped at the artifact's own expiry.
func (p *Pipeline) IssueDownloadToken(artifact *Artifact) (token string, expiresAt time.Time, err error) {
	expiresAt = p.now().UTC().Add(p.tokenTTL)
	if expiresAt.After(artifact.ExpiresAt) {
		expiresAt = artifact.ExpiresAt
	}
	token, err = p.signer.Issue(artifact.ID, artifact.FileName, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ResolveDownloadToken validates the token and returns the artifact it names.
// Signature and expiry are checked before the store is touched; a valid token
// for an expired or missing artifact maps to ErrArtifactUnavailable.
func (p *Pipeline) ResolveDownloadToken(ctx context.Context, token string) (*Artifact, error) {
	artifactID, fileName, err := p.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	artifact, err := p.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact == nil || artifact.FileName != fileName {
		return nil, ErrArtifactUnavailable
	}
	if artifact.Status != StatusCompleted || !p.now().Before(artifact.ExpiresAt) {
		return nil, ErrArtifactUnavailable
	}
	return artifact, nil
}

// Open returns the artifact's file contents, decrypting when the artifact
// was stored encrypted.
func (p *Pipeline) Open(artifact *Artifact) ([]byte, error) {
	data, err := os.ReadFile(artifact.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactUnavailable
		}
		return nil, err
	}
	if artifact.Encrypted {
		return p.crypto.Decrypt(data)
	}
	return data, nil
}

// CleanupExpired removes files for artifacts past retention and marks their
// records expired. Each artifact is handled independently so one failure
// does not stall the sweep, and re-runs are harmless.
func (p *Pipeline) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := p.artifacts.ListExpired(ctx, p.now().UTC())
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, artifact := range expired {
		if err := os.Remove(artifact.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove expired export file failed", "path", artifact.FilePath, "err", err)
			continue
		}
		if err := p.artifacts.MarkExpired(ctx, artifact.ID); err != nil {
			slog.Warn("mark artifact expired failed", "artifactId", artifact.ID, "err", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}
