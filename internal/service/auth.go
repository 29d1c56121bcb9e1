// Package service contains the application services: events, authentication
// and notification read state.
package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/teamcal/internal/crypto"
	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
)

const (
	MaxUsernameLen = 64
	MinPasswordLen = 8
)

// AuthService defines account operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (uuid.UUID, error)
	// Login applies rate-limiting and authenticates the user.
	Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
}

// TokenIssuer signs access tokens. auth.JWT implements it.
type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, time.Time, error)
}

type AuthServiceImpl struct {
	users  repository.UserRepository
	tokens TokenIssuer
	lim    limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens TokenIssuer, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, tokens: tokens, lim: lim}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > MaxUsernameLen {
		return uuid.Nil, errs.Validation("username", "must be 1..64 characters")
	}
	if len(password) < MinPasswordLen {
		return uuid.Nil, errs.Validation("password", "too short")
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, hash, err := pkgcrypto.NewCredential(password)
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  hash,
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return uid, nil
}

// Login authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = strings.TrimSpace(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	var ok bool
	if err != nil {
		ok = pkgcrypto.Decoy([]byte(password))
	} else {
		ok = pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash)
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}
