package files

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metadata/memory"
	"github.com/filedepot/filedepot/internal/quota"
	"github.com/filedepot/filedepot/internal/token"
)

type fixture struct {
	store   *memory.Store
	blobs   *blob.Store
	blobDir string
	svc     *Service
	ownerID int64
	rootID  int64
}

func setup(t *testing.T, limit int64) *fixture {
	t.Helper()
	store := memory.New()
	blobDir := t.TempDir()
	blobs, err := blob.New(blobDir)
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

	svc := NewService(store, blobs,
		quota.NewAccountant(limit),
		token.NewIssuer("test-secret", 10*time.Minute),
		lifecycle.NewCoordinator(blobs))
	return &fixture{store: store, blobs: blobs, blobDir: blobDir, svc: svc,
		ownerID: owner.ID, rootID: root.ID}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(f.blobDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk blob dir: %v", err)
	}
	return count
}

func (f *fixture) location(t *testing.T, id int64) string {
	t.Helper()
	var location string
	err := f.store.Read(context.Background(), func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		location = file.Location
		return nil
	})
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	return location
}

func TestSaveAndContent(t *testing.T) {
	f := setup(t, 1<<20)
	ctx := context.Background()

	meta, err := f.svc.Save(ctx, "notes.txt", f.rootID, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if meta.Size == nil || *meta.Size != 5 {
		t.Errorf("size = %v, want 5", meta.Size)
	}
	if !strings.HasPrefix(meta.MimeType, "text/plain") {
		t.Errorf("mime = %s, want text/plain", meta.MimeType)
	}
	if meta.OwnerID != f.ownerID {
		t.Errorf("owner = %d, want %d", meta.OwnerID, f.ownerID)
	}

	got, rc, err := f.svc.Content(ctx, meta.ID)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "hello" {
		t.Errorf("content = %q, want hello", body)
	}
	if got.ID != meta.ID {
		t.Errorf("metadata id = %d, want %d", got.ID, meta.ID)
	}
}

func TestSaveSniffsMimeWithoutExtension(t *testing.T) {
	f := setup(t, 1<<20)

	// A PNG header with no file extension to go by.
	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16)
	meta, err := f.svc.Save(context.Background(), "picture", f.rootID, strings.NewReader(png))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if meta.MimeType != "image/png" {
		t.Errorf("mime = %s, want image/png", meta.MimeType)
	}
}

func TestSaveIntoMissingFolder(t *testing.T) {
	f := setup(t, 1<<20)
	_, err := f.svc.Save(context.Background(), "x", 9999, strings.NewReader("data"))
	if !errs.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSaveOverQuotaLeavesNoTrace(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, "big.bin", f.rootID, strings.NewReader(strings.Repeat("x", 101)))
	if !errs.IsQuotaExceeded(err) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}

	// No metadata row.
	var files []metadata.File
	f.store.Read(ctx, func(tx metadata.Tx) error {
		var err error
		files, err = tx.FilesByOwner(f.ownerID)
		return err
	})
	if len(files) != 0 {
		t.Errorf("file rows left behind: %d", len(files))
	}
	// No blob either.
	if n := f.blobCount(t); n != 0 {
		t.Errorf("blobs left behind: %d", n)
	}
}

func TestSaveFillsQuotaExactly(t *testing.T) {
	f := setup(t, 100)
	if _, err := f.svc.Save(context.Background(), "a.bin", f.rootID,
		strings.NewReader(strings.Repeat("x", 100))); err != nil {
		t.Errorf("exact-fit upload should pass, got %v", err)
	}
}

func TestUpdateMoveAndRename(t *testing.T) {
	f := setup(t, 1<<20)
	ctx := context.Background()

	var sub metadata.Folder
	f.store.Write(ctx, func(tx metadata.Tx) error {
		sub = metadata.Folder{Name: "sub", ParentID: &f.rootID, OwnerID: f.ownerID}
		return tx.InsertFolder(&sub)
	})

	meta, err := f.svc.Save(ctx, "a.txt", f.rootID, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	name := "b.txt"
	updated, err := f.svc.Update(ctx, meta.ID, &sub.ID, &name)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "b.txt" {
		t.Errorf("name = %s", updated.Name)
	}
	if updated.ParentID == nil || *updated.ParentID != sub.ID {
		t.Error("file not moved")
	}
	// Moving never rewrites content.
	if f.location(t, meta.ID) == "" {
		t.Error("location lost on update")
	}
}

func TestDisconnectPreservesBlobAndSize(t *testing.T) {
	f := setup(t, 1<<20)
	ctx := context.Background()

	meta, err := f.svc.Save(ctx, "a.txt", f.rootID, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	location := f.location(t, meta.ID)

	if err := f.svc.Disconnect(ctx, meta.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := f.svc.Disconnect(ctx, meta.ID); err != nil {
		t.Fatalf("second disconnect should be a no-op, got %v", err)
	}

	got, err := f.svc.Metadata(ctx, meta.ID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if got.ParentID != nil {
		t.Error("file still attached")
	}
	if got.Size == nil || *got.Size != 5 {
		t.Errorf("size changed: %v", got.Size)
	}
	if f.location(t, meta.ID) != location {
		t.Error("location changed in trash")
	}
	exists, _ := f.blobs.Exists(location)
	if !exists {
		t.Error("blob deleted by soft delete")
	}
}

func TestDeletePermanentRemovesBlob(t *testing.T) {
	f := setup(t, 1<<20)
	ctx := context.Background()

	meta, err := f.svc.Save(ctx, "a.txt", f.rootID, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	location := f.location(t, meta.ID)

	if err := f.svc.DeletePermanent(ctx, meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Metadata(ctx, meta.ID); !errs.IsNotFound(err) {
		t.Errorf("metadata still present: %v", err)
	}
	exists, _ := f.blobs.Exists(location)
	if exists {
		t.Error("blob not cleaned up")
	}

	// Freed space is available again.
	if _, err := f.svc.Save(ctx, "b.txt", f.rootID, strings.NewReader("hello")); err != nil {
		t.Errorf("upload after delete: %v", err)
	}
}

func TestTokenFlow(t *testing.T) {
	f := setup(t, 1<<20)
	ctx := context.Background()

	meta, err := f.svc.Save(ctx, "a.txt", f.rootID, strings.NewReader("secret"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	tokenStr, err := f.svc.IssueToken(ctx, meta.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	got, rc, err := f.svc.ContentByToken(ctx, tokenStr)
	if err != nil {
		t.Fatalf("content by token: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "secret" {
		t.Errorf("content = %q", body)
	}
	if got.ID != meta.ID {
		t.Errorf("id = %d, want %d", got.ID, meta.ID)
	}
}

func TestTokenForMissingFile(t *testing.T) {
	f := setup(t, 1<<20)
	if _, err := f.svc.IssueToken(context.Background(), 9999); !errs.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestContentByInvalidToken(t *testing.T) {
	f := setup(t, 1<<20)
	if _, _, err := f.svc.ContentByToken(context.Background(), "garbage"); err != errs.ErrTokenInvalid {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}
