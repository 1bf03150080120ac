package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simplysimi/brains/internal/errors"
)

// Store keeps server-driven sessions in redis for the lifetime of one
// attempt. Sessions expire on their own once the time budget (plus a grace
// period) has passed, so an abandoned attempt costs nothing to clean up.
//
// Callers must serialize access per session: Mutate loads, applies the
// caller's function and saves back under a per-session lock. The lock is
// process-local, which is sufficient for a single-writer deployment; a
// multi-instance deployment would move it to a redis lock.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type StoreConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	// Grace extends the redis TTL beyond the session's own time budget so a
	// just-expired session can still be finalized and scored.
	Grace time.Duration
}

func NewStore(c StoreConfig) *Store {
	grace := c.Grace
	if grace <= 0 {
		grace = 5 * time.Minute
	}

	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
		grace:  grace,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (st *Store) key(id string) string {
	return fmt.Sprintf("%s:session:%s", st.prefix, id)
}

func (st *Store) lock(id string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()

	l, ok := st.locks[id]
	if !ok {
		l = new(sync.Mutex)
		st.locks[id] = l
	}
	return l
}

func (st *Store) forget(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.locks, id)
}

// Save persists a new session.
func (st *Store) Save(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal session: %w", err)
	}

	ttl := time.Duration(s.TimeBudget)*time.Second + st.grace
	if err := st.redis.Set(ctx, st.key(s.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("store: save session %s: %w", s.ID, err)
	}

	return nil
}

// Get loads a session without taking the session lock. Use Mutate for
// anything that writes.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	b, err := st.redis.Get(ctx, st.key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("store: unmarshal session %s: %w", id, err)
	}

	return &s, nil
}

// Mutate loads the session, catches its timer up to wall-clock time, applies
// fn and saves the result, all under the per-session lock. expiredNow is true
// when catching up the timer is what completed the session, exactly once
// across all Mutate calls for that session.
func (st *Store) Mutate(ctx context.Context, id string, fn func(s *Session) error) (s *Session, expiredNow bool, err error) {
	l := st.lock(id)
	l.Lock()
	defer l.Unlock()

	s, err = st.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	elapsed := int(time.Since(s.StartedAt).Seconds()) - s.TimeTaken()
	if elapsed > 0 {
		expiredNow = s.Advance(elapsed)
	}

	if err := fn(s); err != nil {
		// Still persist timer catch-up so expiry is not lost. If that save
		// fails too, expiry was not durably recorded; withhold expiredNow
		// so the next Mutate reports it instead of it firing twice.
		if saveErr := st.Save(ctx, s); saveErr != nil {
			err = fmt.Errorf("%w (save after failed mutate: %v)", err, saveErr)
			expiredNow = false
		}
		return s, expiredNow, err
	}

	if err := st.Save(ctx, s); err != nil {
		return nil, false, err
	}

	return s, expiredNow, nil
}

// Delete drops a discarded session. Best-effort cleanup, not correctness.
func (st *Store) Delete(ctx context.Context, id string) error {
	st.forget(id)
	return st.redis.Del(ctx, st.key(id)).Err()
}
