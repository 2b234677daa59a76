// Package folders implements the folder hierarchy: creation, listing,
// rename and move with cycle protection, and permanent deletion of
// whole subtrees.
package folders

import (
	"context"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
)

// Service manages folder metadata on top of the store.
type Service struct {
	store    metadata.Store
	resolver *lifecycle.Coordinator
}

// NewService creates a folder service.
func NewService(store metadata.Store, resolver *lifecycle.Coordinator) *Service {
	return &Service{store: store, resolver: resolver}
}

// Create makes a new folder under parentID. The owner is inherited
// from the parent.
func (s *Service) Create(ctx context.Context, name string, parentID int64) (*metadata.Metadata, error) {
	var created metadata.Metadata
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		parent, err := tx.GetFolder(parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return errs.NotFound(errs.KindFolder, parentID)
		}

		folder := &metadata.Folder{
			Name:     name,
			ParentID: &parent.ID,
			OwnerID:  parent.OwnerID,
		}
		if err := tx.InsertFolder(folder); err != nil {
			return err
		}
		created = metadata.MapFolder(folder)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("created folder",
		zap.Int64("folder_id", created.ID),
		zap.Int64("parent_id", parentID))
	return &created, nil
}

// Get returns the metadata of a single folder.
func (s *Service) Get(ctx context.Context, id int64) (*metadata.Metadata, error) {
	var out metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		folder, err := tx.GetFolder(id)
		if err != nil {
			return err
		}
		if folder == nil {
			return errs.NotFound(errs.KindFolder, id)
		}
		out = metadata.MapFolder(folder)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Items lists the immediate children of a folder, subfolders first.
func (s *Service) Items(ctx context.Context, id int64) ([]metadata.Metadata, error) {
	var items []metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		folder, err := tx.GetFolder(id)
		if err != nil {
			return err
		}
		if folder == nil {
			return errs.NotFound(errs.KindFolder, id)
		}
		subfolders, err := tx.FoldersByParent(id)
		if err != nil {
			return err
		}
		files, err := tx.FilesByParent(id)
		if err != nil {
			return err
		}
		items = metadata.MapItems(subfolders, files)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Root returns the metadata of the owner's root folder.
func (s *Service) Root(ctx context.Context, ownerID int64) (*metadata.Metadata, error) {
	var out metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		root, err := tx.RootFolder(ownerID)
		if err != nil {
			return err
		}
		if root == nil {
			return errs.NotFound(errs.KindOwner, ownerID)
		}
		out = metadata.MapFolder(root)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RootItems lists the immediate children of the owner's root folder.
func (s *Service) RootItems(ctx context.Context, ownerID int64) ([]metadata.Metadata, error) {
	root, err := s.Root(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.Items(ctx, root.ID)
}

// Update renames and/or moves a folder. Nil fields are left unchanged.
// The root folder can be neither renamed nor moved, and a move that
// would place a folder inside its own subtree is rejected with the
// tree left untouched.
func (s *Service) Update(ctx context.Context, id int64, newParentID *int64, newName *string) (*metadata.Metadata, error) {
	var updated metadata.Metadata
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		folder, err := tx.GetFolder(id)
		if err != nil {
			return err
		}
		if folder == nil {
			return errs.NotFound(errs.KindFolder, id)
		}
		if folder.Root {
			return errs.ErrRootFolderImmutable
		}

		if newParentID != nil {
			parent, err := tx.GetFolder(*newParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return errs.NotFound(errs.KindFolder, *newParentID)
			}
			subtree, err := tx.SubtreeFolderIDs([]int64{id})
			if err != nil {
				return err
			}
			for _, member := range subtree {
				if member == *newParentID {
					return errs.ErrCircularReference
				}
			}
			folder.ParentID = newParentID
		}
		if newName != nil {
			folder.Name = *newName
		}

		if err := tx.UpdateFolder(folder); err != nil {
			return err
		}
		updated = metadata.MapFolder(folder)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Disconnect detaches a folder from its parent, moving its whole
// subtree into the trash. A folder with no parent is left alone; this
// covers nodes already in the trash and the root folder, which the
// permission layer keeps callers away from.
func (s *Service) Disconnect(ctx context.Context, id int64) error {
	return s.store.Write(ctx, func(tx metadata.Tx) error {
		folder, err := tx.GetFolder(id)
		if err != nil {
			return err
		}
		if folder == nil {
			return errs.NotFound(errs.KindFolder, id)
		}
		if folder.ParentID == nil {
			return nil
		}
		folder.ParentID = nil
		return tx.UpdateFolder(folder)
	})
}

// DeletePermanent removes a folder, every folder and file below it,
// and, once the deletion is durable, the content blobs of all removed
// files.
func (s *Service) DeletePermanent(ctx context.Context, id int64) error {
	pending := &lifecycle.Pending{}
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		folder, err := tx.GetFolder(id)
		if err != nil {
			return err
		}
		if folder == nil {
			return errs.NotFound(errs.KindFolder, id)
		}
		if folder.Root {
			return errs.ErrRootFolderImmutable
		}

		files, err := tx.FilesInFolderTree([]int64{id})
		if err != nil {
			return err
		}
		for _, f := range files {
			pending.BlobCondemned(f.Location)
		}
		return tx.DeleteFolder(id)
	})
	s.resolver.Resolve(ctx, pending, err == nil)
	if err != nil {
		return err
	}

	logging.Info("permanently deleted folder", zap.Int64("folder_id", id))
	return nil
}
