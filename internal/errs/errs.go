// Package errs defines the business errors raised by the storage engine.
// Every kind maps to a stable, distinguishable result the caller can
// branch on.
package errs

import (
	"errors"
	"fmt"
)

// Entity kinds used in not-found errors.
const (
	KindFolder = "folder"
	KindFile   = "file"
	KindOwner  = "owner"
)

// NotFoundError reports an absent folder, file or owner.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("the requested %s with id %d has not been found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for the given entity kind and id.
func NotFound(kind string, id int64) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// QuotaExceededError reports a write that would breach the owner's
// storage limit.
type QuotaExceededError struct {
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("maximum storage limit %d is exceeded", e.Limit)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

var (
	// ErrCircularReference is returned when a move would make a folder
	// its own ancestor.
	ErrCircularReference = errors.New("moving the folder would create a circular folder structure")

	// ErrRootFolderImmutable is returned when a move or rename targets a
	// root folder.
	ErrRootFolderImmutable = errors.New("the root folder cannot be moved or renamed")

	// ErrTokenExpired is returned when a file access token is past its
	// expiry time.
	ErrTokenExpired = errors.New("the file access token has expired")

	// ErrTokenInvalid is returned for any other token verification
	// failure: bad signature, malformed payload, wrong algorithm.
	ErrTokenInvalid = errors.New("the file access token is invalid")

	// ErrEmailExists is returned when a registration email is already in
	// use.
	ErrEmailExists = errors.New("the email is already in use")

	// ErrVersionConflict is returned when an optimistic update observes a
	// stale entity version.
	ErrVersionConflict = errors.New("the entity was concurrently modified")
)

// BlobError wraps a filesystem failure in the blob store.
type BlobError struct {
	Op       string // "save", "open", "delete", "stat"
	Location string
	Err      error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *BlobError) Unwrap() error { return e.Err }

// IsBlobError reports whether err is a BlobError.
func IsBlobError(err error) bool {
	var be *BlobError
	return errors.As(err, &be)
}
