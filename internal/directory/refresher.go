package directory

import (
	"context"
	"log/slog"
	"time"
)

// Refresher keeps the candidate pool cache warm so quiz builds rarely pay
// the upstream fetch. Each refresh prevalidates avatars before caching, so
// sessions built from the cache skip most per-candidate checks.
type Refresher struct {
	service  *Service
	avatars  *AvatarChecker
	interval time.Duration
	poolSize int
	stop     chan struct{}
	done     chan struct{}
}

func NewRefresher(s *Service, avatars *AvatarChecker, interval time.Duration, poolSize int) *Refresher {
	if avatars == nil {
		avatars = NewAvatarChecker(nil)
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	return &Refresher{
		service:  s,
		avatars:  avatars,
		interval: interval,
		poolSize: poolSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop is called or ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "directory: refresher started", "interval", r.interval)

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := r.service.fetchPool(ctx, r.poolSize)
	if err != nil {
		slog.WarnContext(ctx, "directory: pool refresh failed", "error", err)
		return
	}

	valid := r.avatars.PrevalidateAvatars(ctx, pool)
	if len(valid) == 0 {
		slog.WarnContext(ctx, "directory: refresh produced no valid avatars", "fetched", len(pool))
		return
	}

	r.service.cachePool(ctx, r.poolSize, valid)
	slog.InfoContext(ctx, "directory: pool refreshed", "size", len(valid), "fetched", len(pool))
}

// Stop terminates the loop and waits for it to exit.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}
