package search

import (
	"context"
	"testing"
	"time"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metadata/memory"
)

func setup(t *testing.T) (*Service, *memory.Store, int64, int64) {
	t.Helper()
	store := memory.New()

	owner := &metadata.Owner{Email: "owner@example.com", Password: "x"}
	root := &metadata.Folder{Name: "root", Root: true}
	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		if err := tx.InsertOwner(owner); err != nil {
			return err
		}
		root.OwnerID = owner.ID
		if err := tx.InsertFolder(root); err != nil {
			return err
		}
		if err := tx.InsertFolder(&metadata.Folder{
			Name: "Vacation Photos", ParentID: &root.ID, OwnerID: owner.ID}); err != nil {
			return err
		}
		if err := tx.InsertFile(&metadata.File{
			Name: "photo.jpg", Size: 10, MimeType: "image/jpeg",
			Location: "/aa/bb/cc/1", ParentID: &root.ID, OwnerID: owner.ID}); err != nil {
			return err
		}
		return tx.InsertFile(&metadata.File{
			Name: "report.pdf", Size: 10, MimeType: "application/pdf",
			Location: "/aa/bb/cc/2", ParentID: &root.ID, OwnerID: owner.ID})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewService(store), store, owner.ID, root.ID
}

func TestFindByNameMatchesBothKinds(t *testing.T) {
	svc, _, ownerID, _ := setup(t)

	// Case-insensitive substring match.
	items, err := svc.Find(context.Background(), metadata.ItemFilter{
		OwnerID: ownerID, Name: "PHO",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2 (folder + file)", len(items))
	}
}

func TestFindByMimeExcludesFolders(t *testing.T) {
	svc, _, ownerID, _ := setup(t)

	items, err := svc.Find(context.Background(), metadata.ItemFilter{
		OwnerID: ownerID, MimeType: "image",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len = %d, want 1", len(items))
	}
	if items[0].Kind != metadata.KindFile || items[0].Name != "photo.jpg" {
		t.Errorf("unexpected match: %+v", items[0])
	}
}

func TestFindProbesAreAnded(t *testing.T) {
	svc, _, ownerID, _ := setup(t)

	items, err := svc.Find(context.Background(), metadata.ItemFilter{
		OwnerID: ownerID, Name: "photo", MimeType: "pdf",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len = %d, want 0", len(items))
	}
}

func TestFindScopedToOwner(t *testing.T) {
	svc, store, _, _ := setup(t)

	other := &metadata.Owner{Email: "other@example.com", Password: "x"}
	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return tx.InsertOwner(other)
	})
	if err != nil {
		t.Fatalf("seed other: %v", err)
	}

	items, err := svc.Find(context.Background(), metadata.ItemFilter{OwnerID: other.ID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("other owner sees %d items, want 0", len(items))
	}
}

func TestFindMissingOwner(t *testing.T) {
	svc, _, _, _ := setup(t)
	if _, err := svc.Find(context.Background(), metadata.ItemFilter{OwnerID: 9999}); !errs.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRecent(t *testing.T) {
	svc, _, ownerID, _ := setup(t)

	items, err := svc.Recent(context.Background(), ownerID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	// Everything was just created.
	if len(items) != 4 {
		t.Errorf("len = %d, want 4", len(items))
	}

	items, err = svc.Recent(context.Background(), ownerID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("future cutoff returned %d items", len(items))
	}
}
