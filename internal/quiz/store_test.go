package quiz_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/quiz"
)

func TestStore_SaveGetRoundTrip(t *testing.T) {
	st := makeStore(t)

	s := buildSession(t, 20)
	s.ID = "attempt-1"
	_, _, err := s.SubmitAnswer(s.Questions[0].CorrectHandle)
	require.NoError(t, err)

	require.NoError(t, st.Save(context.Background(), s))

	got, err := st.Get(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, s.Questions, got.Questions)
	assert.Equal(t, s.Answers, got.Answers)
	assert.Equal(t, s.CurrentIndex, got.CurrentIndex)
	assert.Equal(t, s.Phase, got.Phase)
	assert.Equal(t, s.Log, got.Log)
}

func TestStore_GetMissingSession(t *testing.T) {
	st := makeStore(t)

	_, err := st.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStore_MutateAppliesElapsedTime(t *testing.T) {
	st := makeStore(t)

	s := buildSession(t, 20)
	s.ID = "attempt-2"
	s.StartedAt = time.Now().UTC().Add(-10 * time.Second)
	require.NoError(t, st.Save(context.Background(), s))

	got, expiredNow, err := st.Mutate(context.Background(), "attempt-2", func(s *quiz.Session) error {
		return nil
	})
	require.NoError(t, err)
	assert.False(t, expiredNow)
	assert.InDelta(t, 10, got.TimeTaken(), 1)
}

func TestStore_MutateExpiresOverdueSession(t *testing.T) {
	st := makeStore(t)

	s := buildSession(t, 20)
	s.ID = "attempt-3"
	s.StartedAt = time.Now().UTC().Add(-time.Duration(s.TimeBudget+30) * time.Second)
	require.NoError(t, st.Save(context.Background(), s))

	got, expiredNow, err := st.Mutate(context.Background(), "attempt-3", func(s *quiz.Session) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, expiredNow, "catching up past the budget should complete the session")
	assert.Equal(t, quiz.PhaseCompleted, got.Phase)

	// a second mutate must not report expiry again
	_, expiredNow, err = st.Mutate(context.Background(), "attempt-3", func(s *quiz.Session) error {
		return nil
	})
	require.NoError(t, err)
	assert.False(t, expiredNow)
}

func TestStore_MutateWithholdsExpiryWhenSaveFails(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	st := quiz.NewStore(quiz.StoreConfig{
		Redis:  rc,
		Prefix: "test",
	})

	s := buildSession(t, 20)
	s.ID = "attempt-5"
	s.StartedAt = time.Now().UTC().Add(-time.Duration(s.TimeBudget+30) * time.Second)
	require.NoError(t, st.Save(context.Background(), s))

	// fn fails while redis is down, so the timer catch-up cannot be saved.
	// The expiry was not durably recorded and must not be reported yet.
	_, expiredNow, err := st.Mutate(context.Background(), "attempt-5", func(s *quiz.Session) error {
		rs.SetError("server down")
		return fmt.Errorf("rejected")
	})
	require.Error(t, err)
	assert.False(t, expiredNow)

	// once redis recovers, the next mutate reports the expiry, exactly once
	rs.SetError("")
	got, expiredNow, err := st.Mutate(context.Background(), "attempt-5", func(*quiz.Session) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, expiredNow)
	assert.Equal(t, quiz.PhaseCompleted, got.Phase)
}

func TestStore_Delete(t *testing.T) {
	st := makeStore(t)

	s := buildSession(t, 20)
	s.ID = "attempt-4"
	require.NoError(t, st.Save(context.Background(), s))
	require.NoError(t, st.Delete(context.Background(), "attempt-4"))

	_, err := st.Get(context.Background(), "attempt-4")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func makeStore(t *testing.T) *quiz.Store {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	return quiz.NewStore(quiz.StoreConfig{
		Redis:  rc,
		Prefix: "test",
	})
}
