package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/event"
)

const (
	// maxLimit caps a single leaderboard read; requests clamp into [1,maxLimit].
	maxLimit     = 100
	defaultLimit = 10

	defaultCacheTTL = 2 * time.Minute
)

// Store is the authoritative leaderboard source, implemented by the score
// service over postgres.
type Store interface {
	TopEntries(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	UserRank(ctx context.Context, fid int64) (int, bool, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
	CacheTTL time.Duration
}

// Service serves leaderboard reads through a redis read-through cache. The
// cache holds the full top slice and is invalidated when a score lands; a
// viewer's own rank is computed per request and never cached.
type Service struct {
	eb       *event.Bus
	store    Store
	redis    redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		cacheTTL: c.CacheTTL,
	}

	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}

	s.eb.Subscribe(domain.EventNameScoreSubmitted, func(ctx context.Context, e event.Event) error {
		return s.onScoreSubmitted(ctx, e.(domain.EventScoreSubmitted))
	})

	return s
}

type GetLeaderboardRequest struct {
	Limit int
	// Fid, when non-zero, requests the viewer's own rank alongside the
	// entries.
	Fid int64
}

type GetLeaderboardResponse struct {
	Entries  []domain.LeaderboardEntry
	UserRank *int
	Total    int
	Limit    int
}

// GetLeaderboard returns up to Limit ranked entries. Limit is validated into
// [1, 100]; zero means the default page size.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > maxLimit {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("limit must be between 1 and %d", maxLimit))
	}

	entries, err := s.topEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	resp := &GetLeaderboardResponse{
		Entries: entries,
		Total:   len(entries),
		Limit:   limit,
	}

	if req.Fid > 0 {
		rank, ok, err := s.store.UserRank(ctx, req.Fid)
		if err != nil {
			// rank is decorative; the board itself still serves
			slog.ErrorContext(ctx, "leaderboard: user rank lookup failed",
				"fid", req.Fid,
				"error", err,
			)
		} else if ok {
			resp.UserRank = &rank
		}
	}

	return resp, nil
}

// topEntries reads the cached top slice, falling through to the store.
func (s *Service) topEntries(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	if b, err := s.redis.Get(ctx, s.cacheKey()).Bytes(); err == nil {
		var entries []domain.LeaderboardEntry
		if err := json.Unmarshal(b, &entries); err == nil {
			return entries, nil
		}
	} else if err != redis.Nil {
		slog.WarnContext(ctx, "leaderboard: cache read failed", "error", err)
	}

	entries, err := s.store.TopEntries(ctx, maxLimit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: top entries: %w", err)
	}

	if b, err := json.Marshal(entries); err == nil {
		if err := s.redis.Set(ctx, s.cacheKey(), b, s.cacheTTL).Err(); err != nil {
			slog.WarnContext(ctx, "leaderboard: cache write failed", "error", err)
		}
	}

	return entries, nil
}

// onScoreSubmitted drops the stale cache and announces the fresh standings.
func (s *Service) onScoreSubmitted(ctx context.Context, e domain.EventScoreSubmitted) error {
	if err := s.redis.Del(ctx, s.cacheKey()).Err(); err != nil {
		return fmt.Errorf("leaderboard: invalidate cache: %w", err)
	}

	entries, err := s.topEntries(ctx)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Entries: entries,
	})

	return nil
}

func (s *Service) cacheKey() string {
	return fmt.Sprintf("%s:leaderboard:top", s.prefix)
}
