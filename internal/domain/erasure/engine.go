package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"privacyd/internal/domain/subject"
)

var ErrCascadeFailure = errors.New("cascade failure")

// Tx applies one cascade step for one subject inside the surrounding
// transaction and reports how many rows it touched.
type Tx interface {
	Apply(ctx context.Context, step Step, subjectID string) (int64, error)
}

type StoreAPI interface {
	SubjectExists(ctx context.Context, subjectID string) (bool, error)
	// ArtifactPaths lists export files belonging to the subject's requests,
	// read before the cascade severs the linkage.
	ArtifactPaths(ctx context.Context, subjectID string) ([]string, error)
	RunInTx(ctx context.Context, fn func(Tx) error) error
}

type Result struct {
	DeletedCounts map[string]int64 `json:"deletedCounts"`
	DeletedAt     time.Time        `json:"deletedAt"`
	Reason        string           `json:"reason,omitempty"`
}

// Engine runs the cascade as a single transaction: either every step commits
// or nothing is visible as deleted. There is no undo path.
type Engine struct {
	store StoreAPI
	steps []Step
}

func NewEngine(store StoreAPI) *Engine {
	return &Engine{store: store, steps: CascadeSteps}
}

func (e *Engine) Erase(ctx context.Context, subjectID, reason string) (Result, error) {
	exists, err := e.store.SubjectExists(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, subject.ErrNotFound
	}

	paths, err := e.store.ArtifactPaths(ctx, subjectID)
	if err != nil {
		slog.Warn("erasure artifact path lookup failed", "subjectId", subjectID, "err", err)
	}

	counts := make(map[string]int64, len(e.steps))
	err = e.store.RunInTx(ctx, func(tx Tx) error {
		for _, step := range e.steps {
			affected, err := tx.Apply(ctx, step, subjectID)
			if err != nil {
				return fmt.Errorf("step %s/%s: %w", step.Entity, step.Op, err)
			}
			counts[step.Entity] += affected
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCascadeFailure, err)
	}

	// Files are outside the transaction; removal is best effort after commit.
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("erasure export file removal failed", "path", path, "err", err)
		}
	}

	return Result{DeletedCounts: counts, DeletedAt: time.Now().UTC(), Reason: reason}, nil
}
