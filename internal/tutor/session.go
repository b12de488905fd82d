package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"math-tutor/internal/models"
	"math-tutor/internal/rag"
)

var (
	ErrNoQuestion = errors.New("no question selected")
	ErrNoSteps    = errors.New("question has no predefined steps")
)

// Answerer produces grounded replies.
type Answerer interface {
	Answer(ctx context.Context, prompt string, history []models.Turn) (*models.Answer, error)
}

// QuestionGenerator produces practice variants of a question.
type QuestionGenerator interface {
	GenerateSimilar(ctx context.Context, question, questionType string) string
}

// Deps are shared by every session.
type Deps struct {
	Assistant    Answerer
	Generator    QuestionGenerator
	Matcher      Matcher
	GuardAnswers bool
}

// Session is the state of one student's tutoring conversation. All methods
// are safe for concurrent use.
type Session struct {
	ID      string
	Created time.Time

	deps Deps

	mu       sync.Mutex
	original *models.Question
	question *models.Question
	mode     models.HelpMode
	history  []models.Turn
	tracker  *Tracker
	guard    *AnswerGuard
}

func NewSession(id string, deps Deps) *Session {
	return &Session{
		ID:      id,
		Created: time.Now(),
		deps:    deps,
		mode:    models.HelpGeneral,
		tracker: NewTracker(nil, deps.Matcher),
	}
}

// SetQuestion selects a question from the bank. Choosing a different
// question clears the conversation and step progress.
func (s *Session) SetQuestion(q models.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question != nil && s.question.ID == q.ID && s.question.Text == q.Text {
		return
	}
	s.original = &q
	s.load(q)
}

// SetHelpMode switches mode; a change clears the conversation and progress.
func (s *Session) SetHelpMode(mode models.HelpMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == s.mode {
		return
	}
	s.mode = mode
	s.resetLocked()
}

func (s *Session) load(q models.Question) {
	s.question = &q
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.history = nil
	var steps []models.Step
	if s.question != nil {
		steps = s.question.Steps
	}
	s.tracker = NewTracker(steps, s.deps.Matcher)
	s.guard = nil
	if s.deps.GuardAnswers {
		s.guard = NewAnswerGuard(s.tracker.FinalAnswers())
	}
}

// Open seeds an empty conversation with the mode's opening reply. Modes
// without an opening return "".
func (s *Session) Open(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return "", ErrNoQuestion
	}
	if len(s.history) > 0 {
		return "", nil
	}
	opening, ok := rag.OpeningPrompt(s.question.Text, s.mode)
	if !ok {
		return "", nil
	}

	reply, err := s.ask(ctx, rag.ComposePrompt(opening, s.mode), nil, models.FallbackAnswer)
	s.history = append(s.history, models.Turn{Role: models.RoleAssistant, Content: reply})
	return reply, err
}

// Send answers one chat message. The reply is always user-presentable: on
// failure it is the apology text and the error says why. Blank input is
// ignored.
func (s *Session) Send(ctx context.Context, input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return "", ErrNoQuestion
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	prior := s.history
	var query string
	if IsQuestion(input) {
		query = rag.MetaQuery(s.question.Text, input, s.mode, lastAssistant(prior))
	} else {
		query = rag.TurnQuery(s.question.Text, input, s.mode)
	}

	s.history = append(s.history, models.Turn{Role: models.RoleUser, Content: input})
	reply, err := s.ask(ctx, rag.ComposePrompt(query, s.mode), prior, models.FallbackAnswer)
	s.history = append(s.history, models.Turn{Role: models.RoleAssistant, Content: reply})
	return reply, err
}

// SubmitStep routes step-by-step input: answers go to the tracker, and
// questions ending in "?" get guidance about the current step.
func (s *Session) SubmitStep(ctx context.Context, input string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return Outcome{}, ErrNoQuestion
	}
	if !s.tracker.HasSteps() {
		return Outcome{}, ErrNoSteps
	}

	out := s.tracker.Submit(input)
	if out.Kind != OutcomeQuestion {
		return out, nil
	}

	query := rag.StepQuery(s.question.Text, out.Next, strings.TrimSpace(input), s.mode)
	guidance, err := s.ask(ctx, rag.ComposePrompt(query, s.mode), nil, models.FallbackStepGuidance)
	out.Guidance = guidance
	return out, err
}

// Restart clears step progress and the conversation for the current question.
func (s *Session) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// TrySimilar replaces the current question with a generated variant of the
// originally selected one. The variant has no step table.
func (s *Session) TrySimilar(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		return "", ErrNoQuestion
	}

	text := s.deps.Generator.GenerateSimilar(ctx, s.original.Text, s.original.Type)
	s.load(models.Question{
		ID:           s.original.ID + "-similar",
		Text:         text,
		Type:         s.original.Type,
		GenericHints: s.original.GenericHints,
	})
	return text, nil
}

// ask runs one grounded completion, guards it and appends sources. On
// failure it returns fallback along with the error.
func (s *Session) ask(ctx context.Context, prompt string, history []models.Turn, fallback string) (string, error) {
	ans, err := s.deps.Assistant.Answer(ctx, prompt, history)
	if err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("Assistant could not answer")
		return fallback, err
	}
	ans.Text = s.guard.Apply(ans.Text)
	return rag.FormatWithSources(ans), nil
}

func lastAssistant(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// State is a read-only view of a session.
type State struct {
	ID       string           `json:"id"`
	Question *models.Question `json:"question,omitempty"`
	HelpMode models.HelpMode  `json:"help_mode"`
	History  []models.Turn    `json:"history"`
	Step     int              `json:"step"`
	Progress []StepProgress   `json:"progress"`
	Fraction float64          `json:"fraction"`
	Done     bool             `json:"done"`
	Summary  *Summary         `json:"summary,omitempty"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _, _ := s.tracker.Current()
	st := State{
		ID:       s.ID,
		HelpMode: s.mode,
		History:  append([]models.Turn(nil), s.history...),
		Step:     idx + 1,
		Progress: s.tracker.Progress(),
		Fraction: s.tracker.Fraction(),
		Done:     s.tracker.Done(),
	}
	if s.question != nil {
		q := *s.question
		st.Question = &q
	}
	if st.Done {
		sum := s.tracker.Summary()
		st.Summary = &sum
	}
	return st
}
