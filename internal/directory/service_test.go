package directory_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplysimi/brains/internal/directory"
)

func TestService_Candidates_NormalizesAndFilters(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUsers(w, []map[string]any{
			{"fid": 1, "username": "alice", "display_name": "Alice", "pfp_url": "https://img/a.png", "follower_count": 10},
			// avatar nested under profile.pfp.url
			{"fid": 2, "username": "bob", "profile": map[string]any{"pfp": map[string]any{"url": "https://img/b.png"}}},
			// no handle: dropped
			{"fid": 3, "pfp_url": "https://img/c.png"},
			// no avatar anywhere: dropped
			{"fid": 4, "username": "dave"},
		})
	}))
	t.Cleanup(upstream.Close)

	s := directory.NewService(directory.Config{BaseURL: upstream.URL})

	pool, err := s.Candidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pool, 2)

	assert.Equal(t, "alice", pool[0].Username)
	assert.Equal(t, "Alice", pool[0].DisplayName)
	assert.Equal(t, "https://img/a.png", pool[0].PfpURL)

	assert.Equal(t, "bob", pool[1].Username)
	assert.Equal(t, "bob", pool[1].DisplayName, "display name should default to the handle")
	assert.Equal(t, "https://img/b.png", pool[1].PfpURL)
}

func TestService_Candidates_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeUsers(w, []map[string]any{
			{"fid": 1, "username": "alice", "pfp_url": "https://img/a.png"},
		})
	}))
	t.Cleanup(upstream.Close)

	s := directory.NewService(directory.Config{BaseURL: upstream.URL})

	pool, err := s.Candidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestService_Candidates_FallsBackToSeedPool(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	s := directory.NewService(directory.Config{BaseURL: upstream.URL})

	pool, err := s.Candidates(context.Background(), 20)
	require.NoError(t, err, "upstream failure must not surface while the seed list serves")
	assert.Equal(t, directory.SeedPool(20), pool)
}

func TestService_Candidates_ServesFromCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeUsers(w, []map[string]any{
			{"fid": 1, "username": "alice", "pfp_url": "https://img/a.png"},
		})
	}))
	t.Cleanup(upstream.Close)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })

	s := directory.NewService(directory.Config{
		BaseURL: upstream.URL,
		Redis:   rc,
		Prefix:  "test",
	})

	first, err := s.Candidates(context.Background(), 10)
	require.NoError(t, err)
	second, err := s.Candidates(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load(), "second read should hit the cache")
}

func TestService_Lookup(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "alice", r.URL.Query().Get("username"))
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"user": map[string]any{
					"fid": 1, "username": "alice", "display_name": "Alice", "pfp_url": "https://img/a.png",
				},
			},
		})
	}))
	t.Cleanup(upstream.Close)

	s := directory.NewService(directory.Config{BaseURL: upstream.URL})

	id, err := s.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id.Fid)
	assert.Equal(t, "Alice", id.DisplayName)
}

func TestAvatarChecker_CheckAvatar(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
		case "/not-image":
			w.Header().Set("Content-Type", "text/html")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstream.Close)

	c := directory.NewAvatarChecker(upstream.Client())

	assert.True(t, c.CheckAvatar(context.Background(), upstream.URL+"/ok.png"))
	assert.False(t, c.CheckAvatar(context.Background(), upstream.URL+"/not-image"))
	assert.False(t, c.CheckAvatar(context.Background(), upstream.URL+"/missing.png"))
	assert.False(t, c.CheckAvatar(context.Background(), ""))
}

func TestAvatarChecker_PrevalidateAvatars(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
	}))
	t.Cleanup(upstream.Close)

	pool := directory.SeedPool(6)
	for i := range pool {
		pool[i].PfpURL = fmt.Sprintf("%s/%d.png", upstream.URL, i)
	}
	pool[3].PfpURL = upstream.URL + "/bad.png"

	c := directory.NewAvatarChecker(upstream.Client())
	valid := c.PrevalidateAvatars(context.Background(), pool)

	require.Len(t, valid, 5)
	for _, u := range valid {
		assert.NotEqual(t, pool[3].Username, u.Username)
	}
}

func writeUsers(w http.ResponseWriter, users []map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"users": users})
}

func TestRefresher_WarmsPoolCache(t *testing.T) {
	t.Parallel()

	avatarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	}))
	t.Cleanup(avatarSrv.Close)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users := make([]map[string]any, 0, 5)
		for i := 1; i <= 5; i++ {
			users = append(users, map[string]any{
				"fid":      i,
				"username": fmt.Sprintf("user%d", i),
				"pfp_url":  fmt.Sprintf("%s/%d.png", avatarSrv.URL, i),
			})
		}
		writeUsers(w, users)
	}))
	t.Cleanup(upstream.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := directory.NewService(directory.Config{
		BaseURL: upstream.URL,
		Redis:   rdb,
		Prefix:  "test",
	})

	r := directory.NewRefresher(svc, directory.NewAvatarChecker(avatarSrv.Client()), 10*time.Millisecond, 5)
	r.Start(context.Background())
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool {
		return mr.Exists("test:pool:5")
	}, time.Second, 10*time.Millisecond)

	pool, err := svc.Candidates(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, pool, 5)
}
