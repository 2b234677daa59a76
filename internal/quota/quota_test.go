package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metadata/memory"
)

func seedOwner(t *testing.T, store metadata.Store) int64 {
	t.Helper()
	owner := &metadata.Owner{Email: "quota@example.com", Password: "x"}
	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return tx.InsertOwner(owner)
	})
	if err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	return owner.ID
}

func insertFile(t *testing.T, store metadata.Store, ownerID, size int64, location string) {
	t.Helper()
	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return tx.InsertFile(&metadata.File{
			Name: "f", Size: size, Location: location, OwnerID: ownerID,
		})
	})
	if err != nil {
		t.Fatalf("insert file: %v", err)
	}
}

func TestAdmitWithinLimit(t *testing.T) {
	store := memory.New()
	ownerID := seedOwner(t, store)
	a := NewAccountant(100)

	insertFile(t, store, ownerID, 60, "/aa/bb/cc/1")

	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return a.Admit(tx, ownerID, 40)
	})
	if err != nil {
		t.Errorf("admit exactly at limit should pass, got %v", err)
	}
}

func TestAdmitExceedsLimit(t *testing.T) {
	store := memory.New()
	ownerID := seedOwner(t, store)
	a := NewAccountant(100)

	insertFile(t, store, ownerID, 60, "/aa/bb/cc/1")

	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return a.Admit(tx, ownerID, 41)
	})
	if !errs.IsQuotaExceeded(err) {
		t.Errorf("err = %v, want QuotaExceededError", err)
	}
	var qe *errs.QuotaExceededError
	if errors.As(err, &qe) && qe.Limit != 100 {
		t.Errorf("limit in error = %d, want 100", qe.Limit)
	}
}

func TestTrashedFilesStillCount(t *testing.T) {
	store := memory.New()
	ownerID := seedOwner(t, store)
	a := NewAccountant(100)

	// Files without a parent are in the trash but keep their size.
	insertFile(t, store, ownerID, 90, "/aa/bb/cc/1")

	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return a.Admit(tx, ownerID, 20)
	})
	if !errs.IsQuotaExceeded(err) {
		t.Errorf("trashed content must count toward the limit, got %v", err)
	}
}

func TestConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	store := memory.New()
	ownerID := seedOwner(t, store)
	a := NewAccountant(100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.WriteSerializable(context.Background(), func(tx metadata.Tx) error {
				if err := a.Admit(tx, ownerID, 30); err != nil {
					return err
				}
				return tx.InsertFile(&metadata.File{
					Name: "f", Size: 30, OwnerID: ownerID,
					Location: blobLocation(n),
				})
			})
		}(i)
	}
	wg.Wait()

	var used int64
	store.Read(context.Background(), func(tx metadata.Tx) error {
		var err error
		used, err = tx.TotalFileSizeByOwner(ownerID)
		return err
	})
	if used > 100 {
		t.Errorf("used = %d, exceeds limit 100", used)
	}
}

func blobLocation(n int) string {
	return "/aa/bb/cc/" + string(rune('a'+n))
}
