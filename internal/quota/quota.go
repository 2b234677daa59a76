// Package quota enforces the per-owner storage limit.
package quota

import (
	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
)

// Accountant admits or rejects new content against a fixed limit that
// applies uniformly to every owner. Trashed files still count against
// the limit until they are permanently deleted.
type Accountant struct {
	limit int64
}

// NewAccountant creates an accountant enforcing limit bytes per owner.
func NewAccountant(limit int64) *Accountant {
	return &Accountant{limit: limit}
}

// Limit returns the per-owner limit in bytes.
func (a *Accountant) Limit() int64 {
	return a.limit
}

// Used returns the bytes currently consumed by the owner.
func (a *Accountant) Used(tx metadata.Tx, ownerID int64) (int64, error) {
	return tx.TotalFileSizeByOwner(ownerID)
}

// Admit checks whether the owner may store additional bytes. It must
// run inside the same serializable transaction that inserts the file
// row, so two concurrent uploads cannot both pass against a stale sum.
func (a *Accountant) Admit(tx metadata.Tx, ownerID, additional int64) error {
	used, err := tx.TotalFileSizeByOwner(ownerID)
	if err != nil {
		return err
	}
	if used+additional > a.limit {
		metrics.RecordQuotaExceeded()
		return &errs.QuotaExceededError{Limit: a.limit}
	}
	return nil
}
