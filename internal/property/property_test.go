package property

import (
	"context"
	"testing"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metadata/memory"
)

func setup(t *testing.T) (*Service, int64) {
	t.Helper()
	store := memory.New()

	file := &metadata.File{Name: "a.txt", Size: 1, Location: "/aa/bb/cc/x", OwnerID: 1}
	err := store.Write(context.Background(), func(tx metadata.Tx) error {
		return tx.InsertFile(file)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewService(store), file.ID
}

func TestSaveReturnsFullSet(t *testing.T) {
	svc, fileID := setup(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, fileID, map[string]string{"author": "alice"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	props, err := svc.Save(ctx, fileID, map[string]string{"rating": "5"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// The full set comes back, not just the saved pair.
	if len(props) != 2 {
		t.Fatalf("len(props) = %d, want 2", len(props))
	}
}

func TestSaveUpsertsByKey(t *testing.T) {
	svc, fileID := setup(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, fileID, map[string]string{"author": "alice"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	props, err := svc.Save(ctx, fileID, map[string]string{"author": "bob"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(props) != 1 {
		t.Fatalf("len(props) = %d, want 1", len(props))
	}
	if props[0].Value != "bob" {
		t.Errorf("value = %s, want bob", props[0].Value)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	svc, fileID := setup(t)
	ctx := context.Background()
	pairs := map[string]string{"author": "alice", "rating": "5"}

	first, err := svc.Save(ctx, fileID, pairs)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := svc.Save(ctx, fileID, pairs)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("repeated save changed the set: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key != second[i].Key || first[i].Value != second[i].Value {
			t.Errorf("pair %d changed: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestListAndDeleteAll(t *testing.T) {
	svc, fileID := setup(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, fileID, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	props, err := svc.List(ctx, fileID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(props) != 2 {
		t.Fatalf("len = %d, want 2", len(props))
	}

	if err := svc.DeleteAll(ctx, fileID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	props, err = svc.List(ctx, fileID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(props) != 0 {
		t.Errorf("len = %d, want 0", len(props))
	}
}

func TestMissingFile(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, 9999, map[string]string{"a": "1"}); !errs.IsNotFound(err) {
		t.Errorf("save: err = %v, want not found", err)
	}
	if _, err := svc.List(ctx, 9999); !errs.IsNotFound(err) {
		t.Errorf("list: err = %v, want not found", err)
	}
	if err := svc.DeleteAll(ctx, 9999); !errs.IsNotFound(err) {
		t.Errorf("delete: err = %v, want not found", err)
	}
}
