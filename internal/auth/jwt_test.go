package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/teamcal/internal/errs"
)

func TestJWT_IssueAuthenticate(t *testing.T) {
	j := NewJWT([]byte("k"), time.Minute)
	uid := uuid.Must(uuid.NewV4())

	tok, exp, err := j.Issue(uid)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	got, err := j.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, uid, got)
}

func TestJWT_Authenticate_Rejects(t *testing.T) {
	uid := uuid.Must(uuid.NewV4())
	j := NewJWT([]byte("k"), time.Minute)

	other := NewJWT([]byte("other"), time.Minute)
	foreign, _, err := other.Issue(uid)
	require.NoError(t, err)

	expired := NewJWT([]byte("k"), time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	old, _, err := expired.Issue(uid)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   uid.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: uid.String(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":       "",
		"garbage":     "not-a-token",
		"foreign key": foreign,
		"expired":     old,
		"alg none":    none,
		"bad subject": badSub,
		"no exp":      noExp,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := j.Authenticate(context.Background(), tok)
			require.True(t, errors.Is(err, errs.ErrUnauthorized), "got %v", err)
		})
	}
}

func TestJWT_Leeway(t *testing.T) {
	uid := uuid.Must(uuid.NewV4())
	issuer := NewJWT([]byte("k"), time.Minute)
	tok, _, err := issuer.Issue(uid)
	require.NoError(t, err)

	verifier := NewJWT([]byte("k"), time.Minute)
	verifier.now = func() time.Time { return time.Now().Add(time.Minute + 10*time.Second) }
	got, err := verifier.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, uid, got)
}
