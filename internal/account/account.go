// Package account manages owner registration and lifecycle. Every
// owner gets a private root folder at registration; deleting an owner
// removes everything they stored.
package account

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
)

// Registration carries the fields needed to create an owner.
type Registration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Update carries optional owner field changes. Nil fields are left
// unchanged.
type Update struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
}

// Service manages owner accounts.
type Service struct {
	store    metadata.Store
	resolver *lifecycle.Coordinator
}

// NewService creates an account service.
func NewService(store metadata.Store, resolver *lifecycle.Coordinator) *Service {
	return &Service{store: store, resolver: resolver}
}

// Create registers a new owner and their root folder. Email addresses
// are unique regardless of case. The root folder gets a generated
// opaque name since clients address it by the owner, never by name.
func (s *Service) Create(ctx context.Context, reg Registration) (*metadata.Owner, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	owner := &metadata.Owner{
		Email:     reg.Email,
		Password:  string(hash),
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
	}
	err = s.store.Write(ctx, func(tx metadata.Tx) error {
		existing, err := tx.OwnerByEmail(reg.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.ErrEmailExists
		}
		if err := tx.InsertOwner(owner); err != nil {
			return err
		}
		root := &metadata.Folder{
			Name:    uuid.NewString(),
			Root:    true,
			OwnerID: owner.ID,
		}
		return tx.InsertFolder(root)
	})
	if err != nil {
		return nil, err
	}

	logging.Info("registered owner", zap.Int64("owner_id", owner.ID))
	return owner, nil
}

// Get returns a single owner.
func (s *Service) Get(ctx context.Context, id int64) (*metadata.Owner, error) {
	var owner *metadata.Owner
	err := s.store.Read(ctx, func(tx metadata.Tx) error {
		o, err := tx.GetOwner(id)
		if err != nil {
			return err
		}
		if o == nil {
			return errs.NotFound(errs.KindOwner, id)
		}
		owner = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// Update changes owner fields. A new password is re-hashed; a new
// email must not collide with another account.
func (s *Service) Update(ctx context.Context, id int64, upd Update) (*metadata.Owner, error) {
	var owner *metadata.Owner
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		o, err := tx.GetOwner(id)
		if err != nil {
			return err
		}
		if o == nil {
			return errs.NotFound(errs.KindOwner, id)
		}

		if upd.Email != nil {
			existing, err := tx.OwnerByEmail(*upd.Email)
			if err != nil {
				return err
			}
			if existing != nil && existing.ID != id {
				return errs.ErrEmailExists
			}
			o.Email = *upd.Email
		}
		if upd.Password != nil {
			hash, err := bcrypt.GenerateFromPassword([]byte(*upd.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			o.Password = string(hash)
		}
		if upd.FirstName != nil {
			o.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			o.LastName = *upd.LastName
		}

		if err := tx.UpdateOwner(o); err != nil {
			return err
		}
		owner = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// Delete removes the owner, all their metadata, and once the deletion
// is durable, every content blob they stored.
func (s *Service) Delete(ctx context.Context, id int64) error {
	pending := &lifecycle.Pending{}
	err := s.store.Write(ctx, func(tx metadata.Tx) error {
		exists, err := tx.OwnerExists(id)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(errs.KindOwner, id)
		}
		files, err := tx.FilesByOwner(id)
		if err != nil {
			return err
		}
		for _, f := range files {
			pending.BlobCondemned(f.Location)
		}
		return tx.DeleteOwner(id)
	})
	s.resolver.Resolve(ctx, pending, err == nil)
	if err != nil {
		return err
	}

	logging.Info("deleted owner", zap.Int64("owner_id", id))
	return nil
}
