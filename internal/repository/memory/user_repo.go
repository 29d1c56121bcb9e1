package memory

import (
	"context"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is the in-memory UserRepository.
type UserRepo struct{ s *Store }

// Create inserts u; ErrAlreadyExists if the ID or username is taken.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.usernames[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.s.users[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.s.users[u.ID] = cp
	r.s.usernames[u.Username] = u.ID
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByUsername loads a user by username.
func (r *UserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.usernames[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u := r.s.users[id]
	return &u, nil
}
