package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/simplysimi/brains/internal/directory"
	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
	"github.com/simplysimi/brains/internal/event"
	"github.com/simplysimi/brains/internal/identity"
	"github.com/simplysimi/brains/internal/leaderboard"
	"github.com/simplysimi/brains/internal/quiz"
	"github.com/simplysimi/brains/internal/score"
	"github.com/simplysimi/brains/internal/telemetry"
)

// poolFetchCount is how many candidates we ask the directory for per quiz;
// the engine then filters down to the question count.
const poolFetchCount = 100

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Engine       *quiz.Engine
	Sessions     *quiz.Store
	Directory    *directory.Service
	Identity     identity.Provider
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string

	// QuestionCount and TimeBudget apply when a create request leaves them
	// unset. Zero falls back to the engine defaults.
	QuestionCount int
	TimeBudget    int
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	engine   *quiz.Engine
	sessions *quiz.Store
	dir      *directory.Service
	id       identity.Provider
	ss       *score.Service
	ls       *leaderboard.Service

	redis  Redis
	prefix string

	questionCount int
	timeBudget    int
}

func New(c Config) *API {
	a := &API{
		engine:   c.Engine,
		sessions: c.Sessions,
		dir:      c.Directory,
		id:       c.Identity,
		ss:       c.Score,
		ls:       c.Leaderboard,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,

		questionCount: c.QuestionCount,
		timeBudget:    c.TimeBudget,
	}

	r := c.Router
	r.GET("/healthz", a.Healthz)

	g := r.Group("/api")
	g.POST("/scores", a.SubmitScore)
	g.GET("/scores", a.ListScores)
	g.GET("/leaderboard", a.GetLeaderboard)
	g.GET("/users", a.ListUsers)
	g.GET("/me", a.Me)
	g.POST("/quiz", a.CreateQuiz)
	g.POST("/quiz/:id/answers", a.SubmitAnswer)
	g.GET("/quiz/:id/result", a.QuizResult)
	g.DELETE("/quiz/:id", a.DiscardQuiz)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

func (a *API) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// abortError maps a service error onto the HTTP surface.
func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: internal error",
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
}

type SubmitScoreRequest struct {
	UserFid        int64                   `json:"userFid"`
	Username       string                  `json:"username"`
	DisplayName    string                  `json:"displayName"`
	PfpURL         string                  `json:"pfpUrl"`
	Score          int                     `json:"score"`
	TotalQuestions int                     `json:"totalQuestions"`
	TimeTaken      int                     `json:"timeTaken"`
	QuizData       []domain.AnswerLogEntry `json:"quizData"`
}

func (a *API) SubmitScore(c *gin.Context) {
	var req SubmitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body"),
			errors.WithCause(err),
		))
		return
	}

	resp, err := a.ss.SubmitScore(c.Request.Context(), score.SubmitScoreRequest{
		Fid:              req.UserFid,
		Username:         req.Username,
		DisplayName:      req.DisplayName,
		PfpURL:           req.PfpURL,
		Score:            req.Score,
		TotalQuestions:   req.TotalQuestions,
		TimeTakenSeconds: req.TimeTaken,
		AnswerLog:        req.QuizData,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"attemptId":  resp.AttemptID,
		"score":      resp.Score,
		"percentage": resp.Percentage,
	})
}

type scoreJSON struct {
	ID         string                  `json:"id"`
	Score      int                     `json:"score"`
	Total      int                     `json:"totalQuestions"`
	Percentage int                     `json:"percentage"`
	TimeTaken  int                     `json:"timeTaken"`
	AnswerLog  []domain.AnswerLogEntry `json:"answerLog"`
	CreatedAt  time.Time               `json:"createdAt"`
}

func (a *API) ListScores(c *gin.Context) {
	fid, err := strconv.ParseInt(c.Query("userFid"), 10, 64)
	if err != nil || fid <= 0 {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("userFid must be a positive integer")))
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			abortError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("limit must be between 1 and 100")))
			return
		}
	}

	attempts, err := a.ss.ListScores(c.Request.Context(), score.ListScoresRequest{
		Fid:   fid,
		Limit: limit,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	scores := make([]scoreJSON, 0, len(attempts))
	for _, at := range attempts {
		scores = append(scores, scoreJSON{
			ID:         at.ID,
			Score:      at.Score,
			Total:      at.TotalQuestions,
			Percentage: at.Percentage,
			TimeTaken:  at.TimeTakenSeconds,
			AnswerLog:  at.AnswerLog,
			CreatedAt:  at.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"scores":  scores,
		"total":   len(scores),
		"userFid": fid,
	})
}

type leaderboardEntryJSON struct {
	Rank           int       `json:"rank"`
	Fid            int64     `json:"fid"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"displayName"`
	PfpURL         string    `json:"pfpUrl"`
	BestScore      int       `json:"bestScore"`
	BestPercentage int       `json:"bestPercentage"`
	TotalQuizzes   int       `json:"totalQuizzes"`
	LastQuizAt     time.Time `json:"lastQuizAt"`
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var (
		limit int
		fid   int64
		err   error
	)

	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			abortError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("limit must be an integer")))
			return
		}
	}
	if raw := c.Query("userFid"); raw != "" {
		fid, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			abortError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("userFid must be an integer")))
			return
		}
	}

	resp, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Limit: limit,
		Fid:   fid,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	entries := make([]leaderboardEntryJSON, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, leaderboardEntryJSON{
			Rank:           e.Rank,
			Fid:            e.Fid,
			Username:       e.Username,
			DisplayName:    e.DisplayName,
			PfpURL:         e.PfpURL,
			BestScore:      e.BestScore,
			BestPercentage: e.BestPercentage,
			TotalQuizzes:   e.TotalQuizzes,
			LastQuizAt:     e.LastQuizAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard": entries,
		"userRank":    resp.UserRank,
		"total":       resp.Total,
		"limit":       resp.Limit,
	})
}

type userJSON struct {
	Fid           int64  `json:"fid"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	PfpURL        string `json:"pfpUrl"`
	FollowerCount int64  `json:"followerCount"`
}

func (a *API) ListUsers(c *gin.Context) {
	count := poolFetchCount
	if raw := c.Query("count"); raw != "" {
		var err error
		count, err = strconv.Atoi(raw)
		if err != nil || count < 1 || count > poolFetchCount {
			abortError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("count must be between 1 and %d", poolFetchCount)))
			return
		}
	}

	pool, err := a.dir.Candidates(c.Request.Context(), count)
	if err != nil {
		abortError(c, err)
		return
	}

	users := make([]userJSON, 0, len(pool))
	for _, u := range pool {
		users = append(users, userJSON{
			Fid:           u.Fid,
			Username:      u.Username,
			DisplayName:   u.DisplayName,
			PfpURL:        u.PfpURL,
			FollowerCount: u.FollowerCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *API) Me(c *gin.Context) {
	user, err := a.currentUser(c)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userJSON{
		Fid:           user.Fid,
		Username:      user.Username,
		DisplayName:   user.DisplayName,
		PfpURL:        user.PfpURL,
		FollowerCount: user.FollowerCount,
	}})
}

// currentUser resolves the bearer token on the request into an identity.
func (a *API) currentUser(c *gin.Context) (*domain.UserIdentity, error) {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing bearer token"))
	}

	return a.id.CurrentUser(c.Request.Context(), token)
}

type questionJSON struct {
	Index    int      `json:"index"`
	ImageURL string   `json:"imageUrl"`
	Options  []string `json:"options"`
}

// questionsJSON strips the answers off a session's questions.
func questionsJSON(qs []domain.Question) []questionJSON {
	out := make([]questionJSON, 0, len(qs))
	for _, q := range qs {
		out = append(out, questionJSON{
			Index:    q.Index,
			ImageURL: q.ImageURL,
			Options:  q.Options,
		})
	}
	return out
}

type CreateQuizRequest struct {
	QuestionCount int    `json:"questionCount"`
	Sponsor       string `json:"sponsor"`
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req CreateQuizRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("invalid request body"),
				errors.WithCause(err),
			))
			return
		}
	}

	if req.QuestionCount != 0 &&
		(req.QuestionCount < quiz.MinQuestions || req.QuestionCount > quiz.DefaultQuestionCount) {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("questionCount must be between %d and %d", quiz.MinQuestions, quiz.DefaultQuestionCount)))
		return
	}
	if req.QuestionCount == 0 {
		req.QuestionCount = a.questionCount
	}

	ctx := c.Request.Context()

	// A token is optional here. Without one the attempt is anonymous and
	// its score is not recorded.
	var player *domain.UserIdentity
	if c.GetHeader("Authorization") != "" {
		user, err := a.currentUser(c)
		if err != nil {
			abortError(c, err)
			return
		}
		player = user
	}

	pool, err := a.dir.Candidates(ctx, poolFetchCount)
	if err != nil {
		abortError(c, err)
		return
	}

	// A sponsor outside the fetched pool is resolved directly. Best effort:
	// an unknown sponsor is ignored, as is a failed lookup.
	if req.Sponsor != "" && !poolContains(pool, req.Sponsor) {
		if sponsor, err := a.dir.Lookup(ctx, req.Sponsor); err == nil {
			pool = append([]domain.UserIdentity{*sponsor}, pool...)
		}
	}

	build := quiz.BuildRequest{
		Pool:          pool,
		QuestionCount: req.QuestionCount,
		SponsorHandle: req.Sponsor,
		TimeBudget:    a.timeBudget,
		Player:        player,
	}

	s, err := a.engine.Build(ctx, build)
	if quiz.IsInsufficientCandidates(err) {
		// Too few qualified candidates is recoverable: pad the pool with
		// the static seed list and build again. Only a failure on the
		// padded pool surfaces to the caller.
		slog.WarnContext(ctx, "api: too few candidates, retrying with seed pool",
			"fetched", len(pool),
			"error", err,
		)
		telemetry.SeedPoolServed.Inc()

		build.Pool = append(build.Pool, directory.SeedPool(poolFetchCount)...)
		s, err = a.engine.Build(ctx, build)
	}
	if err != nil {
		abortError(c, err)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		abortError(c, errors.Internal(err))
		return
	}
	s.ID = id.String()

	if err := a.sessions.Save(ctx, s); err != nil {
		abortError(c, err)
		return
	}

	telemetry.SessionsBuilt.Inc()

	c.JSON(http.StatusOK, gin.H{
		"sessionId":        s.ID,
		"questions":        questionsJSON(s.Questions),
		"totalQuestions":   len(s.Questions),
		"remainingSeconds": s.RemainingSeconds,
		"timeBudget":       s.TimeBudget,
	})
}

func poolContains(pool []domain.UserIdentity, handle string) bool {
	for _, u := range pool {
		if u.Username == handle {
			return true
		}
	}
	return false
}

type SubmitAnswerRequest struct {
	Answer string `json:"answer"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body"),
			errors.WithCause(err),
		))
		return
	}
	if req.Answer == "" {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("answer is required")))
		return
	}

	ctx := c.Request.Context()

	var correct, completed bool
	s, expiredNow, err := a.sessions.Mutate(ctx, c.Param("id"), func(s *quiz.Session) error {
		var err error
		correct, completed, err = s.SubmitAnswer(req.Answer)
		return err
	})
	if expiredNow {
		a.finalizeQuiz(ctx, s)
	}
	if err != nil {
		abortError(c, err)
		return
	}

	if completed {
		a.finalizeQuiz(ctx, s)
	}

	c.JSON(http.StatusOK, gin.H{
		"correct":          correct,
		"completed":        completed || expiredNow,
		"currentIndex":     s.CurrentIndex,
		"remainingSeconds": s.RemainingSeconds,
	})
}

func (a *API) QuizResult(c *gin.Context) {
	ctx := c.Request.Context()

	s, expiredNow, err := a.sessions.Mutate(ctx, c.Param("id"), func(*quiz.Session) error {
		return nil
	})
	if expiredNow {
		a.finalizeQuiz(ctx, s)
	}
	if err != nil {
		abortError(c, err)
		return
	}

	if s.Phase != quiz.PhaseCompleted {
		abortError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz %s is still in progress", s.ID)))
		return
	}

	result := s.Score()
	c.JSON(http.StatusOK, gin.H{
		"score":      result.Correct,
		"total":      result.Total,
		"percentage": result.Percentage,
		"tier":       result.Tier.String(),
		"timeTaken":  s.TimeTaken(),
		"answerLog":  s.Log,
	})
}

// DiscardQuiz drops an abandoned attempt. Discarding records nothing; a
// session that was never completed leaves no score behind.
func (a *API) DiscardQuiz(c *gin.Context) {
	if err := a.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// finalizeQuiz records a completed attempt's score. It runs on the single
// call that completed the session, so the score lands at most once. A
// persistence failure is logged and never surfaces to the player.
func (a *API) finalizeQuiz(ctx context.Context, s *quiz.Session) {
	if s == nil || s.Player == nil {
		return
	}

	result := s.Score()
	_, err := a.ss.SubmitScore(ctx, score.SubmitScoreRequest{
		Fid:              s.Player.Fid,
		Username:         s.Player.Username,
		DisplayName:      s.Player.DisplayName,
		PfpURL:           s.Player.PfpURL,
		Score:            result.Correct,
		TotalQuestions:   result.Total,
		TimeTakenSeconds: s.TimeTaken(),
		AnswerLog:        s.Log,
	})
	if err != nil {
		slog.ErrorContext(ctx, "api: record quiz score failed",
			"session", s.ID,
			"fid", s.Player.Fid,
			"error", err,
		)
	}
}
