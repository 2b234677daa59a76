// Package property manages the key-value metadata attached to files.
package property

import (
	"context"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/metadata"
)

// Service manages file properties.
type Service struct {
	store metadata.Store
}

// NewService creates a property service.
func NewService(store metadata.Store) *Service {
	return &Service{store: store}
}

// Save upserts the given key-value pairs on the file and returns the
// file's full property set afterwards. Keys already present get their
// value replaced; saving the same pairs twice changes nothing.
func (s *Service) Save(ctx context.Context, fileID int64, pairs map[string]string) ([]metadata.Property, error) {
	var props []metadata.Property
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		exists, err := tx.FileExists(fileID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindFile, fileID)
		}
		for key, value := range pairs {
			if err := tx.UpsertProperty(fileID, key, value); err != nil {
				return err
			}
		}
		props, err = tx.PropertiesByFile(fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// List returns every property of the file.
func (s *Service) List(ctx context.Context, fileID int64) ([]metadata.Property, error) {
	var props []metadata.Property
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		exists, err := tx.FileExists(fileID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindFile, fileID)
		}
		props, err = tx.PropertiesByFile(fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// DeleteAll removes every property of the file.
func (s *Service) DeleteAll(ctx context.Context, fileID int64) error {
	return s.store.Write(ctx, func(tx metadata.Tx) error {
		exists, err := tx.FileExists(fileID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindFile, fileID)
		}
		return tx.DeleteProperties(fileID)
	})
}
