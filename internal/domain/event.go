package domain

const (
	EventNameScoreSubmitted     = "score.submitted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventScoreSubmitted struct {
	Attempt Attempt
}

func (EventScoreSubmitted) Name() string { return EventNameScoreSubmitted }

type EventLeaderboardUpdated struct {
	Entries []LeaderboardEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
