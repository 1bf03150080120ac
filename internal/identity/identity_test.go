package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/identity"
)

func TestJWTProvider_RoundTrip(t *testing.T) {
	t.Parallel()

	p := identity.NewJWTProvider("test-secret")

	want := domain.UserIdentity{
		Fid:           12345,
		Username:      "demo.user",
		DisplayName:   "Demo User",
		PfpURL:        "https://img/demo.png",
		FollowerCount: 42,
	}

	token, err := p.IssueToken(want, time.Minute)
	require.NoError(t, err)

	got, err := p.CurrentUser(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestJWTProvider_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	p := identity.NewJWTProvider("test-secret")

	id := domain.UserIdentity{Fid: 1, Username: "u"}

	tests := map[string]string{
		"empty token":   "",
		"garbage token": "not.a.jwt",
	}

	expired, err := p.IssueToken(id, -time.Minute)
	require.NoError(t, err)
	tests["expired token"] = expired

	other := identity.NewJWTProvider("different-secret")
	forged, err := other.IssueToken(id, time.Minute)
	require.NoError(t, err)
	tests["wrong signing key"] = forged

	for name, token := range tests {
		token := token
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := p.CurrentUser(context.Background(), token)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeUnauthenticated))
		})
	}
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	want := domain.UserIdentity{Fid: 7, Username: "static"}
	p := identity.NewStaticProvider(want)

	got, err := p.CurrentUser(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, &want, got)

	// callers get a copy, not a handle into the provider
	got.Username = "mutated"
	again, err := p.CurrentUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "static", again.Username)
}
