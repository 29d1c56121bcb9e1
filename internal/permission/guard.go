// Package permission evaluates per-event roles and guards grant/revoke.
// Every decision reads the current permission rows; nothing is cached.
package permission

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Guard answers authorization questions over a PermissionRepository.
type Guard struct {
	repo repository.PermissionRepository
	now  func() time.Time
}

// NewGuard constructs a Guard.
func NewGuard(repo repository.PermissionRepository) *Guard {
	return &Guard{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// RoleOf returns the role of userID on eventID. A missing row yields Forbidden,
// never NotFound, so callers cannot probe event existence.
func (g *Guard) RoleOf(ctx context.Context, userID, eventID uuid.UUID) (model.Role, error) {
	p, err := g.repo.Get(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.Forbidden(eventID.String(), "no access to event")
		}
		return "", err
	}
	return p.Role, nil
}

// Authorize returns nil if userID holds capability c on eventID.
func (g *Guard) Authorize(ctx context.Context, userID, eventID uuid.UUID, c model.Capability) error {
	role, err := g.RoleOf(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if !role.Grants(c) {
		return errs.Forbidden(eventID.String(), "role "+string(role)+" lacks "+c.String())
	}
	return nil
}

// Grant gives target the role on eventID. The actor must hold MANAGE.
// Granting OWNER transfers ownership: target becomes OWNER and the actor EDITOR.
// It reports whether target had no permission before.
func (g *Guard) Grant(ctx context.Context, actor, eventID, target uuid.UUID, role model.Role) (model.Permission, bool, error) {
	if role.Rank() == 0 {
		return model.Permission{}, false, errs.Validation("role", "unknown role")
	}
	if err := g.Authorize(ctx, actor, eventID, model.CapManage); err != nil {
		return model.Permission{}, false, err
	}
	if actor == target {
		return model.Permission{}, false, errs.InvalidOperation(target.String(), "cannot change own role")
	}

	_, err := g.repo.Get(ctx, eventID, target)
	isNew := errors.Is(err, errs.ErrNotFound)
	if err != nil && !isNew {
		return model.Permission{}, false, err
	}

	if role == model.RoleOwner {
		if err := g.repo.TransferOwnership(ctx, eventID, actor, target); err != nil {
			return model.Permission{}, false, err
		}
	} else {
		p := model.Permission{EventID: eventID, UserID: target, Role: role, CreatedAt: g.now()}
		if err := g.repo.Put(ctx, p); err != nil {
			return model.Permission{}, false, err
		}
	}
	p, err := g.repo.Get(ctx, eventID, target)
	if err != nil {
		return model.Permission{}, false, err
	}
	return *p, isNew, nil
}

// Revoke removes target's permission. The actor must hold MANAGE; the OWNER row cannot be revoked.
func (g *Guard) Revoke(ctx context.Context, actor, eventID, target uuid.UUID) error {
	if err := g.Authorize(ctx, actor, eventID, model.CapManage); err != nil {
		return err
	}
	return g.repo.Delete(ctx, eventID, target)
}

// List returns the permissions of eventID; the actor must hold VIEW.
func (g *Guard) List(ctx context.Context, actor, eventID uuid.UUID) ([]model.Permission, error) {
	if err := g.Authorize(ctx, actor, eventID, model.CapView); err != nil {
		return nil, err
	}
	return g.repo.List(ctx, eventID)
}

// Viewers returns every user holding VIEW on eventID, ordered by user ID.
func (g *Guard) Viewers(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	ps, err := g.repo.List(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		if p.Role.Grants(model.CapView) {
			out = append(out, p.UserID)
		}
	}
	return out, nil
}
