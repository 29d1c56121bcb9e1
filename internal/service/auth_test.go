package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/teamcal/internal/auth"
	pkgcrypto "github.com/and161185/teamcal/internal/crypto"
	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := NewAuthService(users, auth.NewJWT([]byte("k"), time.Minute), &fakeLimiter{})

	if _, err := s.Register(context.Background(), "", "password1"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on empty username, got %v", err)
	}
	if _, err := s.Register(context.Background(), "alice", "short"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on short password, got %v", err)
	}

	id, err := s.Register(context.Background(), " alice ", "password1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}
	stored := users.byName["alice"]
	if stored == nil || len(stored.SaltAuth) != 16 || len(stored.PwdHash) == 0 {
		t.Fatalf("user not stored with salt and hash: %+v", stored)
	}
	if !pkgcrypto.VerifyPassword([]byte("password1"), stored.SaltAuth, stored.PwdHash) {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := s.Register(context.Background(), "alice", "password2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob", "password1"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Login_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: salt,
		PwdHash:  pkgcrypto.HashPassword([]byte("correct"), salt),
	}

	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	lim := &fakeLimiter{allowOK: true}
	tokens := auth.NewJWT([]byte("secret"), 2*time.Minute)
	s := NewAuthService(users, tokens, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.Login(ctx, "alice", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.Login(ctx, "alice", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.Login(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.Login(ctx, "alice", "correct", ""); err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("storage failure must not look like bad credentials, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.Login(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.Login(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.Login(ctx, "alice", "correct", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("Login success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
	sub, err := tokens.Authenticate(ctx, tok.AccessToken)
	if err != nil || sub != u.ID {
		t.Fatalf("issued token does not authenticate: sub=%v err=%v", sub, err)
	}
}
