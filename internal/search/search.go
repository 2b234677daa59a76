// Package search finds items by metadata probes and lists recently
// modified items.
package search

import (
	"context"
	"time"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
)

// Service implements metadata search within one owner's items.
type Service struct {
	store metadata.Store
}

// NewService creates a search service.
func NewService(store metadata.Store) *Service {
	return &Service{store: store}
}

// Find returns the owner's items matching every set probe in filter.
// Name and MIME type match as case-insensitive substrings. Folders
// carry no MIME type, so a MIME probe restricts the result to files.
// An empty filter matches everything the owner has.
func (s *Service) Find(ctx context.Context, filter metadata.ItemFilter) ([]metadata.Metadata, error) {
	var items []metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		exists, err := tx.OwnerExists(filter.OwnerID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindOwner, filter.OwnerID)
		}

		var folders []metadata.Folder
		if filter.MimeType == "" {
			folders, err = tx.FindFolders(filter)
			if err != nil {
				return err
			}
		}
		files, err := tx.FindFiles(filter)
		if err != nil {
			return err
		}
		items = metadata.MapItems(folders, files)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Recent returns the owner's folders and files modified after the
// given instant.
func (s *Service) Recent(ctx context.Context, ownerID int64, after time.Time) ([]metadata.Metadata, error) {
	var items []metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		exists, err := tx.OwnerExists(ownerID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindOwner, ownerID)
		}
		folders, err := tx.FoldersModifiedAfter(ownerID, after)
		if err != nil {
			return err
		}
		files, err := tx.FilesModifiedAfter(ownerID, after)
		if err != nil {
			return err
		}
		items = metadata.MapItems(folders, files)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
