// Package lifecycle ties blob cleanup to the outcome of a metadata
// transaction. Blob work is collected while the transaction runs and
// resolved only after the transaction's fate is known, so the metadata
// outcome never depends on blob cleanup succeeding.
package lifecycle

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
)

// BlobDeleter removes a blob at a location.
type BlobDeleter interface {
	Delete(ctx context.Context, location string) error
}

// Pending collects blob locations whose fate depends on the enclosing
// transaction. Staged blobs were written for rows not yet committed and
// must go if the transaction aborts. Condemned blobs belong to rows the
// transaction deletes and must go only once the deletion is durable.
type Pending struct {
	onAbort  []string
	onCommit []string
}

// BlobStaged registers a blob written ahead of its metadata row.
func (p *Pending) BlobStaged(location string) {
	p.onAbort = append(p.onAbort, location)
}

// BlobCondemned registers a blob whose metadata row is being deleted.
func (p *Pending) BlobCondemned(location string) {
	p.onCommit = append(p.onCommit, location)
}

// Coordinator resolves pending blob work once transactions settle.
type Coordinator struct {
	blobs BlobDeleter
}

// NewCoordinator creates a coordinator deleting through blobs.
func NewCoordinator(blobs BlobDeleter) *Coordinator {
	return &Coordinator{blobs: blobs}
}

// Resolve deletes exactly one of the two pending lists depending on
// whether the transaction committed. Failures are logged and counted
// but never propagated: at this point the metadata outcome is settled
// and a leftover blob is an orphan to sweep, not a reason to fail.
func (c *Coordinator) Resolve(ctx context.Context, p *Pending, committed bool) {
	locations := p.onAbort
	phase := "abort"
	if committed {
		locations = p.onCommit
		phase = "commit"
	}

	var errors error
	for _, location := range locations {
		if err := c.blobs.Delete(ctx, location); err != nil {
			errors = multierr.Append(errors, err)
			metrics.RecordBlobCleanupFailure(phase)
		}
	}
	if errors != nil {
		logging.Error("blob cleanup failed, orphaned blobs remain",
			zap.String("phase", phase),
			zap.Int("total", len(locations)),
			zap.Error(errors))
	}
}
