package trash

import (
	"context"
	"strings"
	"testing"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metadata/memory"
)

type fixture struct {
	store   *memory.Store
	blobs   *blob.Store
	svc     *Service
	ownerID int64
	rootID  int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	blobs, err := blob.New(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	owner := &metadata.Owner{Email: "owner@example.com", Password: "x"}
	root := &metadata.Folder{Name: "root", Root: true}
	err = store.Write(context.Background(), func(tx metadata.Tx) error {
		if err := tx.InsertOwner(owner); err != nil {
			return err
		}
		root.OwnerID = owner.ID
		return tx.InsertFolder(root)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	return &fixture{
		store:   store,
		blobs:   blobs,
		svc:     NewService(store, lifecycle.NewCoordinator(blobs)),
		ownerID: owner.ID,
		rootID:  root.ID,
	}
}

func (f *fixture) addFolder(t *testing.T, name string, parentID *int64) int64 {
	t.Helper()
	folder := &metadata.Folder{Name: name, ParentID: parentID, OwnerID: f.ownerID}
	err := f.store.Write(context.Background(), func(tx metadata.Tx) error {
		return tx.InsertFolder(folder)
	})
	if err != nil {
		t.Fatalf("add folder: %v", err)
	}
	return folder.ID
}

func (f *fixture) addFile(t *testing.T, name string, parentID *int64) (int64, string) {
	t.Helper()
	ctx := context.Background()
	location := blob.NewLocation()
	if _, err := f.blobs.Save(ctx, location, strings.NewReader("content")); err != nil {
		t.Fatalf("save blob: %v", err)
	}
	file := &metadata.File{Name: name, Size: 7, Location: location,
		ParentID: parentID, OwnerID: f.ownerID}
	err := f.store.Write(ctx, func(tx metadata.Tx) error {
		return tx.InsertFile(file)
	})
	if err != nil {
		t.Fatalf("add file: %v", err)
	}
	return file.ID, location
}

func TestItemsListsOnlyDetachedTops(t *testing.T) {
	f := setup(t)

	trashedFolder := f.addFolder(t, "old", nil)
	f.addFolder(t, "nested", &trashedFolder)
	f.addFile(t, "deep.txt", &trashedFolder)
	f.addFile(t, "loose.txt", nil)
	f.addFile(t, "kept.txt", &f.rootID)

	items, err := f.svc.Items(context.Background(), f.ownerID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	// The detached folder and the loose file only. Nested items stay
	// inside their trashed folder, the root never shows up.
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.ParentID != nil {
			t.Errorf("item %d has a parent", it.ID)
		}
		if it.Kind == metadata.KindFolder && it.Root != nil && *it.Root {
			t.Error("root folder listed in trash")
		}
	}
}

func TestItemsMissingOwner(t *testing.T) {
	f := setup(t)
	if _, err := f.svc.Items(context.Background(), 9999); !errs.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestEmptyDeletesEverythingDetached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	trashedFolder := f.addFolder(t, "old", nil)
	nested := f.addFolder(t, "nested", &trashedFolder)
	_, deepLoc := f.addFile(t, "deep.txt", &nested)
	_, looseLoc := f.addFile(t, "loose.txt", nil)
	keptID, keptLoc := f.addFile(t, "kept.txt", &f.rootID)

	if err := f.svc.Empty(ctx, f.ownerID); err != nil {
		t.Fatalf("empty: %v", err)
	}

	items, err := f.svc.Items(ctx, f.ownerID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("trash not empty: %d items", len(items))
	}

	// Whole detached subtree and the loose file are gone, blobs included.
	for _, loc := range []string{deepLoc, looseLoc} {
		if exists, _ := f.blobs.Exists(loc); exists {
			t.Errorf("blob %s not cleaned up", loc)
		}
	}

	// Attached content is untouched.
	err = f.store.Read(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(keptID)
		if err != nil {
			return err
		}
		if file == nil {
			t.Error("attached file deleted by empty trash")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if exists, _ := f.blobs.Exists(keptLoc); !exists {
		t.Error("attached blob deleted by empty trash")
	}
}

func TestEmptyOnEmptyTrash(t *testing.T) {
	f := setup(t)
	if err := f.svc.Empty(context.Background(), f.ownerID); err != nil {
		t.Errorf("empty trash on empty trash: %v", err)
	}
}
