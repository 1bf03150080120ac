// Package directory supplies the candidate pool: identities eligible to
// appear as quiz subjects. Identities come from the social graph API, pass
// through normalization and a redis cache, and fall back to a static seed
// list when the upstream cannot serve enough of them.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/telemetry"
)

const (
	defaultPoolSize  = 100
	defaultCacheTTL  = 10 * time.Minute
	fetchAttempts    = 3
	fetchBackoffBase = 500 * time.Millisecond
)

type Config struct {
	BaseURL string
	APIKey  string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	Redis      redis.UniversalClient
	Prefix     string
	CacheTTL   time.Duration
}

type Service struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	redis    redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		baseURL:  c.BaseURL,
		apiKey:   c.APIKey,
		http:     c.HTTPClient,
		redis:    c.Redis,
		prefix:   c.Prefix,
		cacheTTL: c.CacheTTL,
	}

	if s.http == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}

	return s
}

// rawUser is the upstream wire shape. Some deployments nest the avatar under
// profile.pfp.url, so both spots are checked.
type rawUser struct {
	Fid           int64  `json:"fid"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	PfpURL        string `json:"pfp_url"`
	FollowerCount int64  `json:"follower_count"`
	Profile       struct {
		Pfp struct {
			URL string `json:"url"`
		} `json:"pfp"`
	} `json:"profile"`
}

func (r rawUser) normalize() domain.UserIdentity {
	pfp := r.PfpURL
	if pfp == "" {
		pfp = r.Profile.Pfp.URL
	}
	display := r.DisplayName
	if display == "" {
		display = r.Username
	}

	return domain.UserIdentity{
		Fid:           r.Fid,
		Username:      r.Username,
		DisplayName:   display,
		PfpURL:        pfp,
		FollowerCount: r.FollowerCount,
	}
}

// Candidates returns up to count normalized identities. Order of preference:
// redis cache, upstream fetch (retried with backoff), static seed list. An
// upstream failure is never surfaced while the seed list can still serve.
func (s *Service) Candidates(ctx context.Context, count int) ([]domain.UserIdentity, error) {
	if count <= 0 {
		count = defaultPoolSize
	}

	if cached, ok := s.cachedPool(ctx, count); ok {
		return cached, nil
	}

	pool, err := s.fetchPool(ctx, count)
	if err != nil {
		slog.WarnContext(ctx, "directory: upstream fetch failed, serving seed pool",
			"error", err,
		)
		telemetry.SeedPoolServed.Inc()
		return SeedPool(count), nil
	}

	s.cachePool(ctx, count, pool)
	return pool, nil
}

// Lookup resolves a single identity by handle, for sponsor pinning. Best
// effort: callers treat any failure as "no sponsor".
func (s *Service) Lookup(ctx context.Context, handle string) (*domain.UserIdentity, error) {
	u := fmt.Sprintf("%s/user/by_username?username=%s", s.baseURL, url.QueryEscape(handle))

	var resp struct {
		Result struct {
			User rawUser `json:"user"`
		} `json:"result"`
	}
	if err := s.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	if resp.Result.User.Username == "" {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found: %s", handle))
	}

	id := resp.Result.User.normalize()
	return &id, nil
}

func (s *Service) fetchPool(ctx context.Context, count int) ([]domain.UserIdentity, error) {
	u := fmt.Sprintf("%s/users?count=%d", s.baseURL, count)

	var resp struct {
		Users []rawUser `json:"users"`
	}
	if err := s.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	pool := make([]domain.UserIdentity, 0, len(resp.Users))
	for _, r := range resp.Users {
		id := r.normalize()
		// identities without a handle or avatar cannot be quiz subjects
		if id.Username == "" || id.PfpURL == "" {
			continue
		}
		pool = append(pool, id)
		if len(pool) == count {
			break
		}
	}

	if len(pool) == 0 {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("upstream returned no usable identities"))
	}

	return pool, nil
}

// getJSON performs a GET with bounded retries. 4xx responses are terminal;
// network errors and 5xx responses back off and retry.
func (s *Service) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := fetchBackoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.getJSONOnce(ctx, url, out)
		if lastErr == nil {
			return nil
		}
		if errors.IsCode(lastErr, errors.CodeInvalidArgument) {
			return lastErr
		}

		slog.WarnContext(ctx, "directory: fetch attempt failed",
			"url", url,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	return errors.New(errors.CodeUnavailable,
		errors.WithMessagef("directory fetch failed after %d attempts", fetchAttempts),
		errors.WithCause(lastErr),
	)
}

func (s *Service) getJSONOnce(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("upstream rejected request: %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (s *Service) poolKey(count int) string {
	return fmt.Sprintf("%s:pool:%d", s.prefix, count)
}

func (s *Service) cachedPool(ctx context.Context, count int) ([]domain.UserIdentity, bool) {
	if s.redis == nil {
		return nil, false
	}

	b, err := s.redis.Get(ctx, s.poolKey(count)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.WarnContext(ctx, "directory: cache read failed", "error", err)
		}
		return nil, false
	}

	var pool []domain.UserIdentity
	if err := json.Unmarshal(b, &pool); err != nil {
		return nil, false
	}

	return pool, true
}

func (s *Service) cachePool(ctx context.Context, count int, pool []domain.UserIdentity) {
	if s.redis == nil {
		return
	}

	b, err := json.Marshal(pool)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, s.poolKey(count), b, s.cacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "directory: cache write failed", "error", err)
	}
}
