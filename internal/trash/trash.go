// Package trash lists and empties the per-owner trash. An item is in
// the trash when it has no parent folder; the root folder never
// qualifies.
package trash

import (
	"context"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
)

// Service implements trash listing and emptying.
type Service struct {
	store    metadata.Store
	resolver *lifecycle.Coordinator
}

// NewService creates a trash service.
func NewService(store metadata.Store, resolver *lifecycle.Coordinator) *Service {
	return &Service{store: store, resolver: resolver}
}

// Items lists the owner's trashed folders and files. Only the detached
// tops appear; the contents of a trashed folder stay inside it.
func (s *Service) Items(ctx context.Context, ownerID int64) ([]metadata.Metadata, error) {
	var items []metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		exists, err := tx.OwnerExists(ownerID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindOwner, ownerID)
		}
		folders, err := tx.DisconnectedFolders(ownerID)
		if err != nil {
			return err
		}
		files, err := tx.DisconnectedFiles(ownerID)
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

// Empty permanently deletes everything in the owner's trash: every
// detached file, every detached folder with its whole subtree, and all
// their content blobs once the deletion is durable.
func (s *Service) Empty(ctx context.Context, ownerID int64) error {
	pending := &lifecycle.Pending{}
	var folderCount, fileCount int

	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		exists, err := tx.OwnerExists(ownerID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindOwner, ownerID)
		}

		folders, err := tx.DisconnectedFolders(ownerID)
		if err != nil {
			return err
		}
		files, err := tx.DisconnectedFiles(ownerID)
		if err != nil {
			return err
		}

		folderIDs := make([]int64, 0, len(folders))
		for _, f := range folders {
			folderIDs = append(folderIDs, f.ID)
		}
		nested, err := tx.FilesInFolderTree(folderIDs)
		if err != nil {
			return err
		}

		fileIDs := make([]int64, 0, len(files))
		for _, f := range files {
			pending.BlobCondemned(f.Location)
			fileIDs = append(fileIDs, f.ID)
		}
		for _, f := range nested {
			pending.BlobCondemned(f.Location)
		}
		folderCount, fileCount = len(folderIDs), len(fileIDs)+len(nested)

		if err := tx.DeleteFolders(folderIDs); err != nil {
			return err
		}
		return tx.DeleteFiles(fileIDs)
	})
	s.resolver.Resolve(ctx, pending, err == nil)
	if err != nil {
		return err
	}

	logging.Info("emptied trash",
		zap.Int64("owner_id", ownerID),
		zap.Int("folders", folderCount),
		zap.Int("files", fileCount))
	return nil
}
