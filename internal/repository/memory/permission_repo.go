package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PermissionRepo is the in-memory PermissionRepository.
type PermissionRepo struct{ s *Store }

// Get returns the permission of user on event.
func (r *PermissionRepo) Get(_ context.Context, eventID, userID uuid.UUID) (*model.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.perms[permKey{eventID, userID}]
	if !ok {
		return nil, errs.NotFound(userID.String(), "no permission")
	}
	return &p, nil
}

// List returns all permissions of an event ordered by user ID.
func (r *PermissionRepo) List(_ context.Context, eventID uuid.UUID) ([]model.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Permission
	for k, p := range r.s.perms {
		if k.event == eventID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0 })
	return out, nil
}

// Put inserts or changes a non-owner role.
func (r *PermissionRepo) Put(_ context.Context, p model.Permission) error {
	if p.Role == model.RoleOwner {
		return errs.InvalidOperation(p.UserID.String(), "owner is assigned by transfer only")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[p.EventID]; !ok {
		return errs.NotFound(p.EventID.String(), "event or user does not exist")
	}
	if _, ok := r.s.users[p.UserID]; !ok {
		return errs.NotFound(p.UserID.String(), "event or user does not exist")
	}
	k := permKey{p.EventID, p.UserID}
	if cur, ok := r.s.perms[k]; ok {
		if cur.Role == model.RoleOwner {
			return errs.InvalidOperation(p.UserID.String(), "cannot change the owner's role")
		}
		cur.Role = p.Role
		r.s.perms[k] = cur
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.s.perms[k] = p
	return nil
}

// Delete removes a non-owner permission.
func (r *PermissionRepo) Delete(_ context.Context, eventID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := permKey{eventID, userID}
	p, ok := r.s.perms[k]
	if !ok {
		return errs.NotFound(userID.String(), "no permission")
	}
	if p.Role == model.RoleOwner {
		return errs.InvalidOperation(userID.String(), "cannot remove the owner")
	}
	delete(r.s.perms, k)
	return nil
}

// TransferOwnership promotes to to OWNER and demotes from to EDITOR.
func (r *PermissionRepo) TransferOwnership(_ context.Context, eventID, from, to uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.events[eventID]
	if !ok {
		return errs.NotFound(eventID.String(), "event not found")
	}
	if ev.OwnerID != from {
		return errs.InvalidOperation(from.String(), "not the current owner")
	}
	if _, ok := r.s.users[to]; !ok {
		return errs.NotFound(to.String(), "user does not exist")
	}
	now := time.Now().UTC()
	old := r.s.perms[permKey{eventID, from}]
	old.Role = model.RoleEditor
	r.s.perms[permKey{eventID, from}] = old

	np, ok := r.s.perms[permKey{eventID, to}]
	if !ok {
		np = model.Permission{EventID: eventID, UserID: to, CreatedAt: now}
	}
	np.Role = model.RoleOwner
	r.s.perms[permKey{eventID, to}] = np

	ev.OwnerID = to
	ev.UpdatedAt = now
	r.s.events[eventID] = ev
	return nil
}
