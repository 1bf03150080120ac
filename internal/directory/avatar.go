package directory

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/simplysimi/brains/internal/domain"
)

const (
	avatarCheckTimeout = 3 * time.Second
	avatarCheckWorkers = 8
)

// AvatarChecker confirms that an avatar URL is reachable and declares an
// image content type. A timeout or any transport error counts as
// unreachable; candidates are skipped, never retried within a session.
type AvatarChecker struct {
	http    *http.Client
	timeout time.Duration
}

func NewAvatarChecker(client *http.Client) *AvatarChecker {
	if client == nil {
		client = &http.Client{Timeout: avatarCheckTimeout}
	}

	return &AvatarChecker{
		http:    client,
		timeout: avatarCheckTimeout,
	}
}

func (c *AvatarChecker) CheckAvatar(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	return strings.HasPrefix(resp.Header.Get("Content-Type"), "image/")
}

// PrevalidateAvatars filters a pool down to identities whose avatars check
// out, validating concurrently under a bounded worker count. Order is
// preserved. Cancellation abandons in-flight checks.
func (c *AvatarChecker) PrevalidateAvatars(ctx context.Context, pool []domain.UserIdentity) []domain.UserIdentity {
	valid := make([]bool, len(pool))

	var eg errgroup.Group
	eg.SetLimit(avatarCheckWorkers)
	for i, u := range pool {
		i, u := i, u
		eg.Go(func() error {
			valid[i] = c.CheckAvatar(ctx, u.PfpURL)
			return nil
		})
	}

	// workers never return errors, they record validity
	_ = eg.Wait()

	out := make([]domain.UserIdentity, 0, len(pool))
	for i, u := range pool {
		if valid[i] {
			out = append(out, u)
		} else {
			slog.DebugContext(ctx, "directory: dropping candidate, avatar failed validation",
				"handle", u.Username,
			)
		}
	}

	return out
}
