package repository

import (
	"context"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PermissionRepository stores (event, user, role) rows. OWNER rows are only
// written by CreateBatch and TransferOwnership.
type PermissionRepository interface {
	// Get returns the permission of user on event.
	Get(ctx context.Context, eventID, userID uuid.UUID) (*model.Permission, error)
	// List returns all permissions of an event ordered by user ID.
	List(ctx context.Context, eventID uuid.UUID) ([]model.Permission, error)
	// Put inserts or changes a non-owner role; ErrInvalidOperation if the user is the OWNER.
	Put(ctx context.Context, p model.Permission) error
	// Delete removes a non-owner permission; ErrInvalidOperation for the OWNER.
	Delete(ctx context.Context, eventID, userID uuid.UUID) error
	// TransferOwnership promotes to to OWNER and demotes from to EDITOR atomically.
	TransferOwnership(ctx context.Context, eventID, from, to uuid.UUID) error
}
