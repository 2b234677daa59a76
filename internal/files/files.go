// Package files implements file upload, download, metadata updates,
// deletion, and token-based content access.
package files

import (
	"context"
	"io"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/quota"
	"github.com/filedepot/filedepot/internal/token"
)

// Service manages files: their metadata rows and their content blobs.
type Service struct {
	store    metadata.Store
	blobs    *blob.Store
	quota    *quota.Accountant
	tokens   *token.Issuer
	resolver *lifecycle.Coordinator
}

// NewService creates a file service.
func NewService(store metadata.Store, blobs *blob.Store, quota *quota.Accountant,
	tokens *token.Issuer, resolver *lifecycle.Coordinator) *Service {
	return &Service{store: store, blobs: blobs, quota: quota, tokens: tokens, resolver: resolver}
}

// Save stores a new file under parentID with content from r. The blob
// write, the quota check and the metadata insert share one serializable
// transaction, so concurrent uploads for the same owner cannot both
// squeeze past the limit. If anything fails the staged blob is removed
// and no trace of the upload remains.
func (s *Service) Save(ctx context.Context, name string, parentID int64, r io.Reader) (*metadata.Metadata, error) {
	pending := &lifecycle.Pending{}
	var saved metadata.Metadata

	err := s.store.WriteSerializable(ctx, func(tx metadata.Tx) error {
		parent, err := tx.GetFolder(parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return errs.NotFound(errs.KindFolder, parentID)
		}

		location := blob.NewLocation()
		written, err := s.blobs.Save(ctx, location, r)
		if err != nil {
			return err
		}
		pending.BlobStaged(location)

		if err := s.quota.Admit(tx, parent.OwnerID, written); err != nil {
			return err
		}

		file := &metadata.File{
			Name:     name,
			Size:     written,
			MimeType: s.detectMimeType(ctx, name, location),
			Location: location,
			ParentID: &parent.ID,
			OwnerID:  parent.OwnerID,
		}
		if err := tx.InsertFile(file); err != nil {
			return err
		}
		saved = metadata.MapFile(file)
		return nil
	})
	s.resolver.Resolve(ctx, pending, err == nil)
	if err != nil {
		return nil, err
	}

	logging.Info("saved file",
		zap.Int64("file_id", saved.ID),
		zap.Int64("parent_id", parentID),
		zap.Int64("size", *saved.Size))
	return &saved, nil
}

// detectMimeType resolves the MIME type from the file extension first
// and falls back to sniffing the stored content.
func (s *Service) detectMimeType(ctx context.Context, name, location string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	rc, err := s.blobs.Open(ctx, location)
	if err != nil {
		return "application/octet-stream"
	}
	defer rc.Close()
	detected, err := mimetype.DetectReader(rc)
	if err != nil {
		return "application/octet-stream"
	}
	return detected.String()
}

// Metadata returns the metadata of a single file.
func (s *Service) Metadata(ctx context.Context, id int64) (*metadata.Metadata, error) {
	var out metadata.Metadata
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		if file == nil {
			return errs.NotFound(errs.KindFile, id)
		}
		out = metadata.MapFile(file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update renames and/or moves a file. Nil fields are left unchanged.
func (s *Service) Update(ctx context.Context, id int64, newParentID *int64, newName *string) (*metadata.Metadata, error) {
	var updated metadata.Metadata
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		if file == nil {
			return errs.NotFound(errs.KindFile, id)
		}

		if newParentID != nil {
			parent, err := tx.GetFolder(*newParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return errs.NotFound(errs.KindFolder, *newParentID)
			}
			file.ParentID = newParentID
		}
		if newName != nil {
			file.Name = *newName
		}

		if err := tx.UpdateFile(file); err != nil {
			return err
		}
		updated = metadata.MapFile(file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Disconnect detaches a file from its parent folder, moving it into
// the trash. The blob and size are untouched and keep counting against
// the owner's quota. Detaching an already-detached file is a no-op.
func (s *Service) Disconnect(ctx context.Context, id int64) error {
	return s.store.Write(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		if file == nil {
			return errs.NotFound(errs.KindFile, id)
		}
		if file.ParentID == nil {
			return nil
		}
		file.ParentID = nil
		return tx.UpdateFile(file)
	})
}

// DeletePermanent removes the file row and, once the deletion is
// durable, its content blob.
func (s *Service) DeletePermanent(ctx context.Context, id int64) error {
	pending := &lifecycle.Pending{}
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		if file == nil {
			return errs.NotFound(errs.KindFile, id)
		}
		pending.BlobCondemned(file.Location)
		return tx.DeleteFile(id)
	})
	s.resolver.Resolve(ctx, pending, err == nil)
	if err != nil {
		return err
	}

	logging.Info("permanently deleted file", zap.Int64("file_id", id))
	return nil
}

// Content opens the file's content blob for reading.
func (s *Service) Content(ctx context.Context, id int64) (*metadata.Metadata, io.ReadCloser, error) {
	var meta metadata.Metadata
	var location string
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetFile(id)
		if err != nil {
			return err
		}
		if file == nil {
			return errs.NotFound(errs.KindFile, id)
		}
		meta = metadata.MapFile(file)
		location = file.Location
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordContentDownload(*meta.Size)
	return &meta, rc, nil
}

// IssueToken issues a short-lived download token for the file.
func (s *Service) IssueToken(ctx context.Context, id int64) (string, error) {
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		exists, err := tx.FileExists(id)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindFile, id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return s.tokens.Generate(id)
}

// ContentByToken verifies a download token and opens the content of
// the file it was issued for. No session is required.
func (s *Service) ContentByToken(ctx context.Context, tokenString string) (*metadata.Metadata, io.ReadCloser, error) {
	fileID, err := s.tokens.Verify(tokenString)
	if err != nil {
		return nil, nil, err
	}
	return s.Content(ctx, fileID)
}
