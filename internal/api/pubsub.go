package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/simplysimi/brains/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated pushes the fresh standings to every user who
// currently holds a spot, one redis channel per user.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	entries := make([]leaderboardEntryJSON, 0, len(e.Entries))
	for _, entry := range e.Entries {
		entries = append(entries, leaderboardEntryJSON{
			Rank:           entry.Rank,
			Fid:            entry.Fid,
			Username:       entry.Username,
			DisplayName:    entry.DisplayName,
			PfpURL:         entry.PfpURL,
			BestScore:      entry.BestScore,
			BestPercentage: entry.BestPercentage,
			TotalQuizzes:   entry.TotalQuizzes,
			LastQuizAt:     entry.LastQuizAt,
		})
	}

	data := struct {
		Entries []leaderboardEntryJSON `json:"entries"`
	}{Entries: entries}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.Fid, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, fid int64, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%d", a.prefix, fid), b).Err()
}
