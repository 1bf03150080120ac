// Package identity resolves the current viewer. The engine and the API
// layer never depend on a concrete provider; deployments pick an adapter.
package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
)

// Provider supplies the viewer's identity from whatever credential the
// request carries. A missing or invalid credential yields an
// unauthenticated error, never a partial identity.
type Provider interface {
	CurrentUser(ctx context.Context, token string) (*domain.UserIdentity, error)
}

// Claims is the mini-app token payload: the signed-in user's identity as
// attested by the host platform.
type Claims struct {
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	PfpURL        string `json:"pfpUrl"`
	FollowerCount int64  `json:"followerCount,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HMAC-signed mini-app tokens. The fid travels in the
// subject claim.
type JWTProvider struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (p *JWTProvider) CurrentUser(_ context.Context, token string) (*domain.UserIdentity, error) {
	if token == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing auth token"))
	}

	var claims Claims
	parsed, err := p.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid auth token"),
			errors.WithCause(err),
		)
	}

	fid, err := claims.GetSubject()
	if err != nil || fid == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("token has no subject"))
	}

	n, err := strconv.ParseInt(fid, 10, 64)
	if err != nil || n <= 0 {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("token subject is not a fid: %q", fid))
	}

	return &domain.UserIdentity{
		Fid:           n,
		Username:      claims.Username,
		DisplayName:   claims.DisplayName,
		PfpURL:        claims.PfpURL,
		FollowerCount: claims.FollowerCount,
	}, nil
}

// IssueToken mints a token for the given identity. Used by tests and by
// development setups that have no real host platform in front of them.
func (p *JWTProvider) IssueToken(id domain.UserIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:      id.Username,
		DisplayName:   id.DisplayName,
		PfpURL:        id.PfpURL,
		FollowerCount: id.FollowerCount,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.Fid, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// StaticProvider always answers with one configured identity. Serves the
// demo deployment where the host SDK is not wired up yet.
type StaticProvider struct {
	user domain.UserIdentity
}

func NewStaticProvider(user domain.UserIdentity) *StaticProvider {
	return &StaticProvider{user: user}
}

func (p *StaticProvider) CurrentUser(context.Context, string) (*domain.UserIdentity, error) {
	u := p.user
	return &u, nil
}
