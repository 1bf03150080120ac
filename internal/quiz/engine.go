package quiz

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/errors"
)

const (
	// DefaultQuestionCount is the canonical session length.
	DefaultQuestionCount = 20
	// MinQuestions is the minimum number of valid questions a session needs.
	MinQuestions = 10
	// DefaultTimeBudget is the canonical per-session timer, in seconds.
	DefaultTimeBudget = 600

	optionCount = 4
)

// ErrInsufficientCandidates signals that the pool could not produce enough
// valid questions. Callers fall back to the static seed pool.
var ErrInsufficientCandidates = stderrors.New("not enough valid candidates to build a session")

// IsInsufficientCandidates reports whether err wraps ErrInsufficientCandidates.
func IsInsufficientCandidates(err error) bool {
	return stderrors.Is(err, ErrInsufficientCandidates)
}

type Phase int

const (
	PhaseLoading Phase = iota
	PhaseInProgress
	PhaseCompleted
)

// AvatarChecker reports whether an avatar URL resolves to a reachable image.
// Implementations bound their own wait; a timeout counts as unreachable.
type AvatarChecker interface {
	CheckAvatar(ctx context.Context, url string) bool
}

// AvatarCheckerFunc adapts a function to the AvatarChecker interface.
type AvatarCheckerFunc func(ctx context.Context, url string) bool

func (f AvatarCheckerFunc) CheckAvatar(ctx context.Context, url string) bool { return f(ctx, url) }

type Config struct {
	// Rand drives every shuffle and draw. Defaults to a time-seeded PCG.
	Rand *rand.Rand
	// Avatars validates candidate avatars during Build. Defaults to
	// accepting any non-empty URL.
	Avatars AvatarChecker
}

// Engine builds quiz sessions out of candidate pools. It owns no state of
// its own; all per-attempt state lives on the Session it returns.
type Engine struct {
	rng     *rand.Rand
	avatars AvatarChecker
}

func NewEngine(c Config) *Engine {
	e := &Engine{
		rng:     c.Rand,
		avatars: c.Avatars,
	}

	if e.rng == nil {
		now := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(now, now>>32))
	}

	if e.avatars == nil {
		e.avatars = AvatarCheckerFunc(func(_ context.Context, url string) bool {
			return url != ""
		})
	}

	return e
}

// Session is the state of one quiz attempt. It is owned by a single caller:
// none of its methods are safe for concurrent use. currentIndex only grows,
// answers are never overwritten, and the phase walks Loading -> InProgress ->
// Completed with no way back. There is deliberately no API to revisit or
// amend a past answer.
type Session struct {
	ID               string                  `json:"id"`
	Questions        []domain.Question       `json:"questions"`
	Answers          map[int]string          `json:"answers"`
	CurrentIndex     int                     `json:"currentIndex"`
	RemainingSeconds int                     `json:"remainingSeconds"`
	TimeBudget       int                     `json:"timeBudget"`
	Phase            Phase                   `json:"phase"`
	SponsorHandle    string                  `json:"sponsorHandle,omitempty"`
	StartedAt        time.Time               `json:"startedAt"`
	Log              []domain.AnswerLogEntry `json:"log"`
	// Player, when known, identifies who is taking the attempt so the
	// final score can be recorded against them.
	Player *domain.UserIdentity `json:"player,omitempty"`
}

type BuildRequest struct {
	Pool          []domain.UserIdentity
	QuestionCount int
	// SponsorHandle, when present in the pool, pins that identity as the
	// subject of question 0. Unknown handles are ignored silently.
	SponsorHandle string
	TimeBudget    int
	Player        *domain.UserIdentity
}

// Build assembles a session from a candidate pool: Fisher-Yates shuffle,
// one question per candidate with a validated avatar, three distractors
// drawn uniformly without replacement, options in shuffled display order.
// No handle is used as the correct answer twice. Fails with
// ErrInsufficientCandidates when fewer than MinQuestions valid questions
// could be built.
func (e *Engine) Build(ctx context.Context, req BuildRequest) (*Session, error) {
	count := req.QuestionCount
	if count <= 0 {
		count = DefaultQuestionCount
	}
	budget := req.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}

	pool := dedupeByHandle(req.Pool)
	if req.SponsorHandle != "" {
		pool = pinSponsor(pool, req.SponsorHandle)
	}

	// Shuffle everything but a pinned sponsor.
	start := 0
	if req.SponsorHandle != "" && len(pool) > 0 && pool[0].Username == req.SponsorHandle {
		start = 1
	}
	rest := pool[start:]
	e.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	s := &Session{
		Questions:        make([]domain.Question, 0, count),
		Answers:          make(map[int]string),
		RemainingSeconds: budget,
		TimeBudget:       budget,
		Phase:            PhaseLoading,
		SponsorHandle:    req.SponsorHandle,
		StartedAt:        time.Now().UTC(),
		Player:           req.Player,
	}

	used := make(map[string]bool, count)
	for _, candidate := range pool {
		if len(s.Questions) == count {
			break
		}
		if used[candidate.Username] || candidate.PfpURL == "" {
			continue
		}
		if !e.avatars.CheckAvatar(ctx, candidate.PfpURL) {
			slog.DebugContext(ctx, "quiz: skipping candidate, avatar unreachable",
				"handle", candidate.Username,
			)
			continue
		}

		options, ok := e.drawOptions(pool, candidate.Username)
		if !ok {
			continue
		}

		used[candidate.Username] = true
		s.Questions = append(s.Questions, domain.Question{
			Index:         len(s.Questions),
			CorrectHandle: candidate.Username,
			ImageURL:      candidate.PfpURL,
			Options:       options,
		})
	}

	if len(s.Questions) < MinQuestions {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("built %d of %d questions from a pool of %d", len(s.Questions), count, len(pool)),
			errors.WithCause(ErrInsufficientCandidates),
		)
	}

	s.Phase = PhaseInProgress
	return s, nil
}

// drawOptions picks three distractor handles uniformly without replacement
// and shuffles the four options into display order.
func (e *Engine) drawOptions(pool []domain.UserIdentity, correct string) ([]string, bool) {
	distractors := make([]string, 0, len(pool)-1)
	for _, u := range pool {
		if u.Username != correct {
			distractors = append(distractors, u.Username)
		}
	}
	if len(distractors) < optionCount-1 {
		return nil, false
	}

	e.rng.Shuffle(len(distractors), func(i, j int) {
		distractors[i], distractors[j] = distractors[j], distractors[i]
	})

	options := append([]string{correct}, distractors[:optionCount-1]...)
	e.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return options, true
}

// SubmitAnswer records the chosen handle for the current question and
// advances the session. Calling it outside InProgress, past the last
// question, or for an index that already holds an answer is a caller
// contract violation and fails with a typed error rather than mutating
// anything. completed is true exactly once, on the submit that consumed the
// final question.
func (s *Session) SubmitAnswer(chosenHandle string) (correct, completed bool, err error) {
	if s.Phase != PhaseInProgress {
		return false, false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("submit answer: session is not in progress (phase %d)", s.Phase))
	}
	if s.CurrentIndex >= len(s.Questions) {
		return false, false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("submit answer: no current question (index %d of %d)", s.CurrentIndex, len(s.Questions)))
	}
	if _, dup := s.Answers[s.CurrentIndex]; dup {
		return false, false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("submit answer: question %d already answered", s.CurrentIndex))
	}

	q := s.Questions[s.CurrentIndex]
	correct = chosenHandle == q.CorrectHandle

	s.Answers[s.CurrentIndex] = chosenHandle
	s.Log = append(s.Log, domain.AnswerLogEntry{
		QuestionIndex: s.CurrentIndex,
		CorrectHandle: q.CorrectHandle,
		Chosen:        chosenHandle,
		Correct:       correct,
	})
	s.CurrentIndex++

	if s.CurrentIndex == len(s.Questions) {
		s.Phase = PhaseCompleted
		completed = true
	}

	return correct, completed, nil
}

// Tick consumes one second of the time budget. When the budget hits zero the
// session completes: unanswered trailing questions stay absent from Answers
// and score as incorrect. Outside InProgress it is a no-op, so expiry and a
// final SubmitAnswer can race at the boundary and Completed still happens
// exactly once. Returns true only on the tick that completed the session.
func (s *Session) Tick() bool {
	if s.Phase != PhaseInProgress {
		return false
	}

	if s.RemainingSeconds > 0 {
		s.RemainingSeconds--
	}

	if s.RemainingSeconds == 0 {
		s.Phase = PhaseCompleted
		return true
	}

	return false
}

// Advance applies elapsed wall-clock seconds as individual ticks. Used when
// session state is rehydrated from the store and the timer must catch up.
func (s *Session) Advance(elapsed int) (completed bool) {
	for i := 0; i < elapsed && s.Phase == PhaseInProgress; i++ {
		if s.Tick() {
			return true
		}
	}
	return false
}

// TimeTaken reports how many budget seconds the session has consumed.
func (s *Session) TimeTaken() int {
	return s.TimeBudget - s.RemainingSeconds
}

// Score derives the current result. Final scoring is meaningful once the
// session is Completed; earlier calls report live progress. Unanswered
// indices count as incorrect. The percentage rounds half-up.
func (s *Session) Score() domain.ScoreResult {
	correct := 0
	for i, q := range s.Questions {
		if s.Answers[i] == q.CorrectHandle {
			correct++
		}
	}

	total := len(s.Questions)
	percentage := 0
	if total > 0 {
		percentage = int(decimal.NewFromInt(int64(correct * 100)).
			Div(decimal.NewFromInt(int64(total))).
			Round(0).
			IntPart())
	}

	return domain.ScoreResult{
		Correct:    correct,
		Total:      total,
		Percentage: percentage,
		Tier:       domain.TierFor(percentage),
	}
}

func dedupeByHandle(pool []domain.UserIdentity) []domain.UserIdentity {
	seen := make(map[string]bool, len(pool))
	out := make([]domain.UserIdentity, 0, len(pool))
	for _, u := range pool {
		if u.Username == "" || seen[u.Username] {
			continue
		}
		seen[u.Username] = true
		out = append(out, u)
	}
	return out
}

// pinSponsor moves the sponsor's identity to position 0 when present.
func pinSponsor(pool []domain.UserIdentity, handle string) []domain.UserIdentity {
	for i, u := range pool {
		if u.Username == handle {
			pinned := append([]domain.UserIdentity{u}, pool[:i]...)
			return append(pinned, pool[i+1:]...)
		}
	}
	return pool
}
