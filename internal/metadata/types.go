// Package metadata defines the storage-metadata model and the Store
// interface the hierarchy engine is written against. The folder graph is
// kept as a unidirectional parent-id foreign key; children are always
// derived by query.
package metadata

import "time"

// Owner is a user account. Each owner has exactly one root folder.
type Owner struct {
	ID           int64
	Email        string
	Password     string // bcrypt hash
	FirstName    string
	LastName     string
	DateCreated  time.Time
	DateModified time.Time
}

// Folder is a node of an owner's tree. ParentID is nil for the root
// folder and for folders in trash; the Root flag tells the two apart.
type Folder struct {
	ID           int64
	Version      int64
	Name         string
	Root         bool
	ParentID     *int64
	OwnerID      int64
	DateCreated  time.Time
	DateModified time.Time
}

// File is a leaf of an owner's tree. Location is the blob store path of
// its content, independent of the logical name and position, so moves and
// renames never touch blob storage. ParentID nil means the file is in
// trash.
type File struct {
	ID           int64
	Version      int64
	Name         string
	Size         int64
	MimeType     string
	Location     string
	ParentID     *int64
	OwnerID      int64
	DateCreated  time.Time
	DateModified time.Time
}

// InTrash reports whether the folder is disconnected. Root folders always
// have a nil parent and are never classified as trash.
func (f *Folder) InTrash() bool { return f.ParentID == nil && !f.Root }

// InTrash reports whether the file is disconnected.
func (f *File) InTrash() bool { return f.ParentID == nil }

// Property is a flat key/value pair attached to one file. (FileID, Key)
// is unique.
type Property struct {
	ID     int64
	FileID int64
	Key    string
	Value  string
}

// Kind discriminates metadata records.
type Kind string

const (
	KindFile   Kind = "FILE"
	KindFolder Kind = "FOLDER"
)

// Metadata is the flat record exposed to collaborators for both files and
// folders. Size and MimeType are file-only, Root is folder-only.
type Metadata struct {
	Kind         Kind      `json:"type"`
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
	ParentID     *int64    `json:"parentId"`
	OwnerID      int64     `json:"ownerId"`
	Size         *int64    `json:"size,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Root         *bool     `json:"root,omitempty"`
}

// MapFolder projects a folder row to a metadata record.
func MapFolder(f *Folder) Metadata {
	root := f.Root
	return Metadata{
		Kind:         KindFolder,
		ID:           f.ID,
		Name:         f.Name,
		DateCreated:  f.DateCreated,
		DateModified: f.DateModified,
		ParentID:     f.ParentID,
		OwnerID:      f.OwnerID,
		Root:         &root,
	}
}

// MapFile projects a file row to a metadata record.
func MapFile(f *File) Metadata {
	size := f.Size
	return Metadata{
		Kind:         KindFile,
		ID:           f.ID,
		Name:         f.Name,
		DateCreated:  f.DateCreated,
		DateModified: f.DateModified,
		ParentID:     f.ParentID,
		OwnerID:      f.OwnerID,
		Size:         &size,
		MimeType:     f.MimeType,
	}
}

// MapItems projects folders followed by files into one metadata list.
func MapItems(folders []Folder, files []File) []Metadata {
	items := make([]Metadata, 0, len(folders)+len(files))
	for i := range folders {
		items = append(items, MapFolder(&folders[i]))
	}
	for i := range files {
		items = append(items, MapFile(&files[i]))
	}
	return items
}

// ItemFilter is an attribute probe for search: empty/nil fields are
// ignored, set fields are ANDed; string matching is case-insensitive
// substring.
type ItemFilter struct {
	OwnerID  int64
	Name     string
	MimeType string
	ParentID *int64
}
