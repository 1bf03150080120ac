package score

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/event"
	"github.com/simplysimi/brains/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

// Service is the write side of the persistence gateway: users, attempts and
// the best-of leaderboard rows live behind it.
type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		eb: c.EventBus,
		db: c.DB,
	}
}

// RunMigrations creates the schema. Idempotent.
func (s *Service) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			fid BIGINT PRIMARY KEY,
			username TEXT NOT NULL,
			display_name TEXT,
			pfp_url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS quiz_attempts (
			id UUID PRIMARY KEY,
			user_fid BIGINT NOT NULL REFERENCES users(fid),
			score INT NOT NULL,
			total_questions INT NOT NULL,
			percentage INT NOT NULL,
			time_taken INT NOT NULL DEFAULT 0,
			answer_log JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard (
			user_fid BIGINT PRIMARY KEY REFERENCES users(fid),
			best_score INT NOT NULL,
			best_percentage INT NOT NULL,
			total_quizzes INT NOT NULL DEFAULT 1,
			last_quiz_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user_fid ON quiz_attempts(user_fid, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_best ON leaderboard(best_score DESC, best_percentage DESC, last_quiz_at ASC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(ctx, m); err != nil {
			return fmt.Errorf("score: migration: %w", err)
		}
	}

	return nil
}

type SubmitScoreRequest struct {
	Fid              int64
	Username         string
	DisplayName      string
	PfpURL           string
	Score            int
	TotalQuestions   int
	TimeTakenSeconds int
	AnswerLog        []domain.AnswerLogEntry
}

type SubmitScoreResponse struct {
	AttemptID  string
	Score      int
	Percentage int
}

// SubmitScore validates and records one finished attempt: upserts the user,
// inserts the attempt, and folds the result into the leaderboard row with
// best-of semantics, all in one transaction. Nothing is ever partially
// applied.
func (s *Service) SubmitScore(ctx context.Context, req SubmitScoreRequest) (*SubmitScoreResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	percentage := roundPercentage(req.Score, req.TotalQuestions)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("score: generate attempt id: %w", err)
	}

	attempt := domain.Attempt{
		ID:               id.String(),
		Fid:              req.Fid,
		Score:            req.Score,
		TotalQuestions:   req.TotalQuestions,
		Percentage:       percentage,
		TimeTakenSeconds: req.TimeTakenSeconds,
		AnswerLog:        req.AnswerLog,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.insertAttempt(ctx, req, attempt); err != nil {
		return nil, err
	}

	telemetry.ScoresSubmitted.Inc()

	s.eb.Publish(ctx, domain.EventScoreSubmitted{
		Attempt: attempt,
	})

	return &SubmitScoreResponse{
		AttemptID:  attempt.ID,
		Score:      req.Score,
		Percentage: percentage,
	}, nil
}

func validate(req SubmitScoreRequest) error {
	switch {
	case req.Fid <= 0:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid fid: %d", req.Fid))
	case req.Username == "":
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username is required"))
	case req.TotalQuestions <= 0:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid totalQuestions: %d", req.TotalQuestions))
	case req.Score < 0 || req.Score > req.TotalQuestions:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid score: %d of %d", req.Score, req.TotalQuestions))
	case req.TimeTakenSeconds < 0:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid timeTaken: %d", req.TimeTakenSeconds))
	}

	return nil
}

// roundPercentage computes round-half-up(score/total*100).
func roundPercentage(score, total int) int {
	return int(decimal.NewFromInt(int64(score * 100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart())
}

func (s *Service) insertAttempt(ctx context.Context, req SubmitScoreRequest, attempt domain.Attempt) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("score: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const upsertUserStmt = `
INSERT INTO users (fid, username, display_name, pfp_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (fid) DO UPDATE SET
	username = EXCLUDED.username,
	display_name = EXCLUDED.display_name,
	pfp_url = EXCLUDED.pfp_url,
	updated_at = now();`

	display := req.DisplayName
	if display == "" {
		display = req.Username
	}
	if _, err = tx.Exec(ctx, upsertUserStmt, req.Fid, req.Username, display, req.PfpURL); err != nil {
		return fmt.Errorf("score: upsert user: %w", err)
	}

	const insertAttemptStmt = `
INSERT INTO quiz_attempts (id, user_fid, score, total_questions, percentage, time_taken, answer_log, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	logJSON, err := json.Marshal(attempt.AnswerLog)
	if err != nil {
		return fmt.Errorf("score: marshal answer log: %w", err)
	}

	_, err = tx.Exec(ctx, insertAttemptStmt,
		attempt.ID, attempt.Fid, attempt.Score, attempt.TotalQuestions,
		attempt.Percentage, attempt.TimeTakenSeconds, logJSON, attempt.CreatedAt)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("attempt already recorded: %s", attempt.ID),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("score: insert attempt: %w", err)
	}

	const upsertLeaderboardStmt = `
INSERT INTO leaderboard (user_fid, best_score, best_percentage, total_quizzes, last_quiz_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (user_fid) DO UPDATE SET
	best_score = GREATEST(leaderboard.best_score, EXCLUDED.best_score),
	best_percentage = GREATEST(leaderboard.best_percentage, EXCLUDED.best_percentage),
	total_quizzes = leaderboard.total_quizzes + 1,
	last_quiz_at = now(),
	updated_at = now();`

	if _, err = tx.Exec(ctx, upsertLeaderboardStmt, req.Fid, req.Score, attempt.Percentage); err != nil {
		return fmt.Errorf("score: upsert leaderboard: %w", err)
	}

	return tx.Commit(ctx)
}

type ListScoresRequest struct {
	Fid   int64
	Limit int
}

// ListScores returns a user's prior attempts, newest first.
func (s *Service) ListScores(ctx context.Context, req ListScoresRequest) ([]domain.Attempt, error) {
	const stmt = `
SELECT id, user_fid, score, total_questions, percentage, time_taken, answer_log, created_at
FROM quiz_attempts
WHERE user_fid = $1
ORDER BY created_at DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, req.Fid, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("score: list scores: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Attempt, error) {
		var (
			a       domain.Attempt
			logJSON []byte
		)
		if err := r.Scan(&a.ID, &a.Fid, &a.Score, &a.TotalQuestions, &a.Percentage, &a.TimeTakenSeconds, &logJSON, &a.CreatedAt); err != nil {
			return domain.Attempt{}, err
		}
		if len(logJSON) > 0 {
			if err := json.Unmarshal(logJSON, &a.AnswerLog); err != nil {
				return domain.Attempt{}, err
			}
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	return attempts, nil
}

// TopEntries returns the leaderboard ordered by best score, best percentage,
// then earliest last attempt.
func (s *Service) TopEntries(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	const stmt = `
SELECT l.user_fid, u.username, u.display_name, u.pfp_url,
       l.best_score, l.best_percentage, l.total_quizzes, l.last_quiz_at
FROM leaderboard l
JOIN users u ON u.fid = l.user_fid
ORDER BY l.best_score DESC, l.best_percentage DESC, l.last_quiz_at ASC
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("score: top entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		if err := r.Scan(&e.Fid, &e.Username, &e.DisplayName, &e.PfpURL,
			&e.BestScore, &e.BestPercentage, &e.TotalQuizzes, &e.LastQuizAt); err != nil {
			return domain.LeaderboardEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}

// UserRank computes a user's 1-based rank under the same ordering as
// TopEntries. Returns (0, false) when the user has no leaderboard row.
func (s *Service) UserRank(ctx context.Context, fid int64) (int, bool, error) {
	const stmt = `
SELECT COUNT(*) + 1
FROM leaderboard l, leaderboard me
WHERE me.user_fid = $1 AND (
	l.best_score > me.best_score
	OR (l.best_score = me.best_score AND l.best_percentage > me.best_percentage)
	OR (l.best_score = me.best_score AND l.best_percentage = me.best_percentage AND l.last_quiz_at < me.last_quiz_at)
);`

	var rank int
	err := s.db.QueryRow(ctx, stmt, fid).Scan(&rank)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score: user rank: %w", err)
	}

	// COUNT over an empty cross join still yields one row; detect absence
	// explicitly.
	const existsStmt = `SELECT EXISTS (SELECT 1 FROM leaderboard WHERE user_fid = $1);`
	var exists bool
	if err := s.db.QueryRow(ctx, existsStmt, fid).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("score: user rank exists: %w", err)
	}
	if !exists {
		return 0, false, nil
	}

	return rank, true, nil
}
