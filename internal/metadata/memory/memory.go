// Package memory provides an in-memory metadata store for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
)

type state struct {
	owners     map[int64]*metadata.Owner
	folders    map[int64]*metadata.Folder
	files      map[int64]*metadata.File
	properties map[int64]*metadata.Property
	nextID     int64
}

func (s *state) clone() *state {
	c := &state{
		owners:     make(map[int64]*metadata.Owner, len(s.owners)),
		folders:    make(map[int64]*metadata.Folder, len(s.folders)),
		files:      make(map[int64]*metadata.File, len(s.files)),
		properties: make(map[int64]*metadata.Property, len(s.properties)),
		nextID:     s.nextID,
	}
	for id, o := range s.owners {
		cp := *o
		c.owners[id] = &cp
	}
	for id, f := range s.folders {
		cp := *f
		if f.ParentID != nil {
			pid := *f.ParentID
			cp.ParentID = &pid
		}
		c.folders[id] = &cp
	}
	for id, f := range s.files {
		cp := *f
		if f.ParentID != nil {
			pid := *f.ParentID
			cp.ParentID = &pid
		}
		c.files[id] = &cp
	}
	for id, p := range s.properties {
		cp := *p
		c.properties[id] = &cp
	}
	return c
}

// Store is an in-memory metadata store. A single mutex is held for the
// whole duration of each transaction, so every transaction observes a
// consistent snapshot and writes are all-or-nothing: a transaction
// mutates a clone that only replaces the live state on commit.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{state: &state{
		owners:     make(map[int64]*metadata.Owner),
		folders:    make(map[int64]*metadata.Folder),
		files:      make(map[int64]*metadata.File),
		properties: make(map[int64]*metadata.Property),
		nextID:     1,
	}}
}

func (s *Store) Close() error { return nil }

func (s *Store) Read(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) Write(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) WriteSerializable(ctx context.Context, fn func(metadata.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(metadata.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memTx struct {
	state *state
}

func (t *memTx) allocate() int64 {
	id := t.state.nextID
	t.state.nextID++
	return id
}

// ─── Owners ──────────────────────────────────────────────────────────────────

func (t *memTx) InsertOwner(o *metadata.Owner) error {
	o.ID = t.allocate()
	o.DateCreated = time.Now()
	o.DateModified = o.DateCreated
	cp := *o
	t.state.owners[o.ID] = &cp
	return nil
}

func (t *memTx) GetOwner(id int64) (*metadata.Owner, error) {
	o, ok := t.state.owners[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) OwnerByEmail(email string) (*metadata.Owner, error) {
	for _, o := range t.state.owners {
		if strings.EqualFold(o.Email, email) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) OwnerExists(id int64) (bool, error) {
	_, ok := t.state.owners[id]
	return ok, nil
}

func (t *memTx) UpdateOwner(o *metadata.Owner) error {
	stored, ok := t.state.owners[o.ID]
	if !ok {
		return errs.NotFound(errs.KindOwner, o.ID)
	}
	stored.Email = o.Email
	stored.Password = o.Password
	stored.FirstName = o.FirstName
	stored.LastName = o.LastName
	stored.DateModified = time.Now()
	o.DateModified = stored.DateModified
	return nil
}

func (t *memTx) DeleteOwner(id int64) error {
	delete(t.state.owners, id)
	for fid, f := range t.state.folders {
		if f.OwnerID == id {
			delete(t.state.folders, fid)
		}
	}
	for fid, f := range t.state.files {
		if f.OwnerID == id {
			t.deleteFileRow(fid)
		}
	}
	return nil
}

// ─── Folders ─────────────────────────────────────────────────────────────────

func (t *memTx) InsertFolder(f *metadata.Folder) error {
	f.ID = t.allocate()
	f.Version = 1
	f.DateCreated = time.Now()
	f.DateModified = f.DateCreated
	cp := *f
	if f.ParentID != nil {
		pid := *f.ParentID
		cp.ParentID = &pid
	}
	t.state.folders[f.ID] = &cp
	return nil
}

func (t *memTx) GetFolder(id int64) (*metadata.Folder, error) {
	f, ok := t.state.folders[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (t *memTx) RootFolder(ownerID int64) (*metadata.Folder, error) {
	for _, f := range t.state.folders {
		if f.OwnerID == ownerID && f.Root {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateFolder(f *metadata.Folder) error {
	stored, ok := t.state.folders[f.ID]
	if !ok || stored.Version != f.Version {
		return errs.ErrVersionConflict
	}
	stored.Name = f.Name
	if f.ParentID != nil {
		pid := *f.ParentID
		stored.ParentID = &pid
	} else {
		stored.ParentID = nil
	}
	stored.Version++
	stored.DateModified = time.Now()
	f.Version = stored.Version
	f.DateModified = stored.DateModified
	return nil
}

func (t *memTx) DeleteFolder(id int64) error {
	return t.DeleteFolders([]int64{id})
}

func (t *memTx) DeleteFolders(ids []int64) error {
	subtree, _ := t.SubtreeFolderIDs(ids)
	for _, id := range subtree {
		for fid, f := range t.state.files {
			if f.ParentID != nil && *f.ParentID == id {
				t.deleteFileRow(fid)
			}
		}
		delete(t.state.folders, id)
	}
	return nil
}

func (t *memTx) FoldersByParent(parentID int64) ([]metadata.Folder, error) {
	var out []metadata.Folder
	for _, f := range t.state.folders {
		if f.ParentID != nil && *f.ParentID == parentID {
			out = append(out, *f)
		}
	}
	sortFolders(out)
	return out, nil
}

func (t *memTx) SubtreeFolderIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	queue := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.state.folders[id]; ok && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, f := range t.state.folders {
			if f.ParentID != nil && *f.ParentID == queue[i] && !seen[f.ID] {
				seen[f.ID] = true
				queue = append(queue, f.ID)
			}
		}
	}
	return queue, nil
}

func (t *memTx) FilesInFolderTree(ids []int64) ([]metadata.File, error) {
	subtree, _ := t.SubtreeFolderIDs(ids)
	members := make(map[int64]bool, len(subtree))
	for _, id := range subtree {
		members[id] = true
	}
	var out []metadata.File
	for _, f := range t.state.files {
		if f.ParentID != nil && members[*f.ParentID] {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) DisconnectedFolders(ownerID int64) ([]metadata.Folder, error) {
	var out []metadata.Folder
	for _, f := range t.state.folders {
		if f.OwnerID == ownerID && f.ParentID == nil && !f.Root {
			out = append(out, *f)
		}
	}
	sortFolders(out)
	return out, nil
}

func (t *memTx) FoldersModifiedAfter(ownerID int64, after time.Time) ([]metadata.Folder, error) {
	var out []metadata.Folder
	for _, f := range t.state.folders {
		if f.OwnerID == ownerID && f.DateModified.After(after) {
			out = append(out, *f)
		}
	}
	sortFolders(out)
	return out, nil
}

func (t *memTx) FindFolders(filter metadata.ItemFilter) ([]metadata.Folder, error) {
	var out []metadata.Folder
	for _, f := range t.state.folders {
		if f.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Name != "" && !containsFold(f.Name, filter.Name) {
			continue
		}
		if filter.ParentID != nil && (f.ParentID == nil || *f.ParentID != *filter.ParentID) {
			continue
		}
		out = append(out, *f)
	}
	sortFolders(out)
	return out, nil
}

// ─── Files ───────────────────────────────────────────────────────────────────

func (t *memTx) InsertFile(f *metadata.File) error {
	f.ID = t.allocate()
	f.Version = 1
	f.DateCreated = time.Now()
	f.DateModified = f.DateCreated
	cp := *f
	if f.ParentID != nil {
		pid := *f.ParentID
		cp.ParentID = &pid
	}
	t.state.files[f.ID] = &cp
	return nil
}

func (t *memTx) GetFile(id int64) (*metadata.File, error) {
	f, ok := t.state.files[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (t *memTx) FileExists(id int64) (bool, error) {
	_, ok := t.state.files[id]
	return ok, nil
}

func (t *memTx) UpdateFile(f *metadata.File) error {
	stored, ok := t.state.files[f.ID]
	if !ok || stored.Version != f.Version {
		return errs.ErrVersionConflict
	}
	stored.Name = f.Name
	if f.ParentID != nil {
		pid := *f.ParentID
		stored.ParentID = &pid
	} else {
		stored.ParentID = nil
	}
	stored.Version++
	stored.DateModified = time.Now()
	f.Version = stored.Version
	f.DateModified = stored.DateModified
	return nil
}

func (t *memTx) DeleteFile(id int64) error {
	return t.DeleteFiles([]int64{id})
}

func (t *memTx) DeleteFiles(ids []int64) error {
	for _, id := range ids {
		t.deleteFileRow(id)
	}
	return nil
}

func (t *memTx) deleteFileRow(id int64) {
	delete(t.state.files, id)
	for pid, p := range t.state.properties {
		if p.FileID == id {
			delete(t.state.properties, pid)
		}
	}
}

func (t *memTx) FilesByParent(parentID int64) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range t.state.files {
		if f.ParentID != nil && *f.ParentID == parentID {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) FilesByOwner(ownerID int64) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range t.state.files {
		if f.OwnerID == ownerID {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) DisconnectedFiles(ownerID int64) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range t.state.files {
		if f.OwnerID == ownerID && f.ParentID == nil {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) FilesModifiedAfter(ownerID int64, after time.Time) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range t.state.files {
		if f.OwnerID == ownerID && f.DateModified.After(after) {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) FindFiles(filter metadata.ItemFilter) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range t.state.files {
		if f.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Name != "" && !containsFold(f.Name, filter.Name) {
			continue
		}
		if filter.MimeType != "" && !containsFold(f.MimeType, filter.MimeType) {
			continue
		}
		if filter.ParentID != nil && (f.ParentID == nil || *f.ParentID != *filter.ParentID) {
			continue
		}
		out = append(out, *f)
	}
	sortFiles(out)
	return out, nil
}

func (t *memTx) TotalFileSizeByOwner(ownerID int64) (int64, error) {
	var total int64
	for _, f := range t.state.files {
		if f.OwnerID == ownerID {
			total += f.Size
		}
	}
	return total, nil
}

// ─── Properties ──────────────────────────────────────────────────────────────

func (t *memTx) PropertiesByFile(fileID int64) ([]metadata.Property, error) {
	var out []metadata.Property
	for _, p := range t.state.properties {
		if p.FileID == fileID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memTx) UpsertProperty(fileID int64, key, value string) error {
	for _, p := range t.state.properties {
		if p.FileID == fileID && p.Key == key {
			p.Value = value
			return nil
		}
	}
	id := t.allocate()
	t.state.properties[id] = &metadata.Property{ID: id, FileID: fileID, Key: key, Value: value}
	return nil
}

func (t *memTx) DeleteProperties(fileID int64) error {
	for id, p := range t.state.properties {
		if p.FileID == fileID {
			delete(t.state.properties, id)
		}
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func sortFolders(fs []metadata.Folder) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
}

func sortFiles(fs []metadata.File) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
}
