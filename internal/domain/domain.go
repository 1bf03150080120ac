package domain

import "time"

// UserIdentity is a platform identity eligible to appear in a quiz.
// Immutable once fetched; the engine only reads it.
type UserIdentity struct {
	Fid           int64
	Username      string
	DisplayName   string
	PfpURL        string
	FollowerCount int64
}

// Question asks which handle belongs to the shown profile picture.
// Options holds exactly 4 distinct handles, one of which is CorrectHandle,
// in final display order.
type Question struct {
	Index         int
	CorrectHandle string
	ImageURL      string
	Options       []string
}

// Tier classifies a final score for results messaging and sharing.
type Tier int

const (
	TierNewcomer Tier = iota
	TierGettingStarted
	TierCasual
	TierRegular
	TierOG
)

var tierLabels = map[Tier]string{
	TierNewcomer:       "Newcomer",
	TierGettingStarted: "Getting Started",
	TierCasual:         "Casual",
	TierRegular:        "Regular",
	TierOG:             "OG",
}

func (t Tier) String() string {
	if l, ok := tierLabels[t]; ok {
		return l
	}
	return "Newcomer"
}

// TierFor maps a rounded percentage to a tier. Inclusive lower bounds:
// 90 OG, 75 Regular, 60 Casual, 40 Getting Started, below that Newcomer.
func TierFor(percentage int) Tier {
	switch {
	case percentage >= 90:
		return TierOG
	case percentage >= 75:
		return TierRegular
	case percentage >= 60:
		return TierCasual
	case percentage >= 40:
		return TierGettingStarted
	default:
		return TierNewcomer
	}
}

// ScoreResult is derived from a completed session, never stored on it.
type ScoreResult struct {
	Correct    int
	Total      int
	Percentage int
	Tier       Tier
}

// Attempt is one recorded quiz run for a user.
type Attempt struct {
	ID               string
	Fid              int64
	Score            int
	TotalQuestions   int
	Percentage       int
	TimeTakenSeconds int
	AnswerLog        []AnswerLogEntry
	CreatedAt        time.Time
}

// AnswerLogEntry records a single submitted answer within an attempt.
type AnswerLogEntry struct {
	QuestionIndex int    `json:"questionIndex"`
	CorrectHandle string `json:"correctHandle"`
	Chosen        string `json:"chosen"`
	Correct       bool   `json:"correct"`
}

// LeaderboardEntry is one row of the best-of leaderboard, one per user.
type LeaderboardEntry struct {
	Fid            int64
	Username       string
	DisplayName    string
	PfpURL         string
	BestScore      int
	BestPercentage int
	TotalQuizzes   int
	LastQuizAt     time.Time
	Rank           int
}
