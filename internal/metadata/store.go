package metadata

import (
	"context"
	"time"
)

// Store opens transactions against the metadata backend. Implementations:
// postgres (production) and memory (tests).
type Store interface {
	// Read runs fn in a read-only transaction at the backend's default
	// isolation; staleness of a metadata read is acceptable.
	Read(ctx context.Context, fn func(Tx) error) error

	// Write runs fn in a read-committed transaction, committing when fn
	// returns nil and rolling back otherwise. No partial mutation is ever
	// visible after an error.
	Write(ctx context.Context, fn func(Tx) error) error

	// WriteSerializable runs fn under serializable isolation. Required
	// whenever a quota admission and a file insert must be atomic with
	// respect to concurrent writers of the same owner.
	WriteSerializable(ctx context.Context, fn func(Tx) error) error

	// Close releases the backend.
	Close() error
}

// Tx exposes the metadata operations available inside a transaction.
// Lookups return (nil, nil) when the entity does not exist; callers map
// misses to their own not-found errors.
type Tx interface {
	// Owners
	InsertOwner(o *Owner) error
	GetOwner(id int64) (*Owner, error)
	OwnerByEmail(email string) (*Owner, error)
	OwnerExists(id int64) (bool, error)
	UpdateOwner(o *Owner) error
	DeleteOwner(id int64) error

	// Folders
	InsertFolder(f *Folder) error
	GetFolder(id int64) (*Folder, error)
	RootFolder(ownerID int64) (*Folder, error)
	// UpdateFolder persists name and parent, bumps the version and the
	// modification timestamp. Returns errs.ErrVersionConflict when the
	// row's version no longer matches f.Version.
	UpdateFolder(f *Folder) error
	DeleteFolder(id int64) error
	DeleteFolders(ids []int64) error
	FoldersByParent(parentID int64) ([]Folder, error)
	// SubtreeFolderIDs returns the descendant closure of the given
	// folders, seed ids included. Cost scales with subtree size.
	SubtreeFolderIDs(ids []int64) ([]int64, error)
	// FilesInFolderTree returns every file whose parent lies inside the
	// descendant closure of the given folders.
	FilesInFolderTree(ids []int64) ([]File, error)
	DisconnectedFolders(ownerID int64) ([]Folder, error)
	FoldersModifiedAfter(ownerID int64, after time.Time) ([]Folder, error)
	FindFolders(filter ItemFilter) ([]Folder, error)

	// Files
	InsertFile(f *File) error
	GetFile(id int64) (*File, error)
	FileExists(id int64) (bool, error)
	UpdateFile(f *File) error
	DeleteFile(id int64) error
	DeleteFiles(ids []int64) error
	FilesByParent(parentID int64) ([]File, error)
	FilesByOwner(ownerID int64) ([]File, error)
	DisconnectedFiles(ownerID int64) ([]File, error)
	FilesModifiedAfter(ownerID int64, after time.Time) ([]File, error)
	FindFiles(filter ItemFilter) ([]File, error)
	// TotalFileSizeByOwner sums size over ALL of the owner's files,
	// trash included.
	TotalFileSizeByOwner(ownerID int64) (int64, error)

	// Properties
	PropertiesByFile(fileID int64) ([]Property, error)
	UpsertProperty(fileID int64, key, value string) error
	DeleteProperties(fileID int64) error
}
