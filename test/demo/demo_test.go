//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/simplysimi/brains/internal/domain"
)

const baseURL = "http://localhost:8080"

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	wg := new(sync.WaitGroup)

	// Prepare Redis subscriber for leaderboard notifications
	subscribeAsUser(t, makeRedis(t), wg, 6841)

	// Create a new quiz
	var created struct {
		SessionID string `json:"sessionId"`
		Questions []struct {
			Index   int      `json:"index"`
			Options []string `json:"options"`
		} `json:"questions"`
	}
	postJSON(t, ctx, "/api/quiz", map[string]any{}, &created)
	require.NotEmpty(t, created.SessionID)
	t.Logf("Started quiz %s with %d questions", created.SessionID, len(created.Questions))

	// Answer every question with the first option
	for _, q := range created.Questions {
		var resp struct {
			Correct   bool `json:"correct"`
			Completed bool `json:"completed"`
		}
		postJSON(t, ctx, fmt.Sprintf("/api/quiz/%s/answers", created.SessionID),
			map[string]string{"answer": q.Options[0]}, &resp)
		t.Logf("Question %d: correct=%v completed=%v", q.Index, resp.Correct, resp.Completed)
	}

	// Fetch the final result
	var result struct {
		Score      int    `json:"score"`
		Total      int    `json:"total"`
		Percentage int    `json:"percentage"`
		Tier       string `json:"tier"`
	}
	getJSON(t, ctx, fmt.Sprintf("/api/quiz/%s/result", created.SessionID), &result)
	t.Logf("Result: %d/%d (%d%%), tier %s", result.Score, result.Total, result.Percentage, result.Tier)

	// Record a score directly and watch the leaderboard move
	var submitted struct {
		Success    bool `json:"success"`
		Percentage int  `json:"percentage"`
	}
	postJSON(t, ctx, "/api/scores", map[string]any{
		"userFid":        6841,
		"username":       "demo",
		"score":          18,
		"totalQuestions": 20,
		"timeTaken":      245,
	}, &submitted)
	require.True(t, submitted.Success)

	time.Sleep(2 * time.Second)
	wg.Wait()
}

func postJSON(t *testing.T, ctx context.Context, path string, body, out any) {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	doJSON(t, req, out)
}

func getJSON(t *testing.T, ctx context.Context, path string, out any) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)

	doJSON(t, req, out)
}

func doJSON(t *testing.T, req *http.Request, out any) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func subscribeAsUser(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, fid int64) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, fmt.Sprintf("local:pubsub:user:%d", fid))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				t.Logf("fid %d leaderboard update:\n%s", fid, n.Data)
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}
