package tutor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-tutor/internal/models"
	"math-tutor/internal/rag"
)

type fakeAssistant struct {
	mu      sync.Mutex
	reply   string
	sources []string
	err     error
	prompts []string
	history [][]models.Turn
}

func (f *fakeAssistant) Answer(_ context.Context, prompt string, history []models.Turn) (*models.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.history = append(f.history, append([]models.Turn(nil), history...))
	if f.err != nil {
		return nil, f.err
	}
	return &models.Answer{Text: f.reply, Sources: f.sources}, nil
}

func (f *fakeAssistant) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type fakeGenerator struct{ text string }

func (g fakeGenerator) GenerateSimilar(context.Context, string, string) string { return g.text }

func quadratic() models.Question {
	return models.Question{ID: "4.1.1", Text: "Solve 2x² - 8x + 7 = 0.", Type: "quadratic_formula", Steps: quadraticSteps()}
}

func newTestSession(a *fakeAssistant) *Session {
	return NewSession("s1", Deps{
		Assistant:    a,
		Generator:    fakeGenerator{text: "Solve 3x² - 12x + 5 = 0."},
		Matcher:      Chain{ExactMatcher{}, NumericMatcher{Tolerance: 1e-6}},
		GuardAnswers: true,
	})
}

func TestSession_RequiresQuestion(t *testing.T) {
	s := newTestSession(&fakeAssistant{})
	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoQuestion)
	_, err = s.Open(context.Background())
	assert.ErrorIs(t, err, ErrNoQuestion)
	_, err = s.TrySimilar(context.Background())
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestSession_OpenSeedsConceptualConversation(t *testing.T) {
	a := &fakeAssistant{reply: "This asks you to find the roots.", sources: []string{"4.1.pdf"}}
	s := newTestSession(a)
	s.SetQuestion(quadratic())
	s.SetHelpMode(models.HelpConceptual)

	reply, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "This asks you to find the roots.\n\n**Sources:**\n- 4.1.pdf", reply)
	assert.Contains(t, a.lastPrompt(), models.ConceptualOpening)
	assert.Contains(t, a.lastPrompt(), "Solve 2x² - 8x + 7 = 0.")

	// already open
	reply, err = s.Open(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Len(t, s.State().History, 1)
}

func TestSession_SendRoutesQuestionsAndKeepsHistory(t *testing.T) {
	a := &fakeAssistant{reply: "Consider what a, b and c are."}
	s := newTestSession(a)
	s.SetQuestion(quadratic())
	s.SetHelpMode(models.HelpApplication)
	ctx := context.Background()

	_, err := s.Send(ctx, "I will use the formula")
	require.NoError(t, err)
	assert.Contains(t, a.lastPrompt(), "Student input: I will use the formula")
	assert.Empty(t, a.history[0])

	_, err = s.Send(ctx, "what is b?")
	require.NoError(t, err)
	assert.Contains(t, a.lastPrompt(), "Student question: what is b?")
	assert.Contains(t, a.lastPrompt(), "Previous context: Consider what a, b and c are.")
	assert.Len(t, a.history[1], 2)

	reply, err := s.Send(ctx, "   ")
	assert.NoError(t, err)
	assert.Empty(t, reply)
	assert.Len(t, s.State().History, 4)
}

func TestSession_SendFailureUsesFallback(t *testing.T) {
	a := &fakeAssistant{err: errors.New("timeout")}
	s := newTestSession(a)
	s.SetQuestion(quadratic())

	reply, err := s.Send(context.Background(), "help")
	assert.Error(t, err)
	assert.Equal(t, "I'm sorry, I couldn't generate an answer for that question.", reply)

	a.err = rag.ErrNoIndex
	_, err = s.Send(context.Background(), "help")
	assert.ErrorIs(t, err, rag.ErrNoIndex)
}

func TestSession_GuardWithholdsFinalAnswer(t *testing.T) {
	a := &fakeAssistant{reply: "The roots are x = 2 ± √2/2."}
	s := newTestSession(a)
	s.SetQuestion(quadratic())

	reply, err := s.Send(context.Background(), "just tell me")
	require.NoError(t, err)
	assert.Equal(t, models.GuardedAnswer, reply)
}

func TestSession_ChangingModeOrQuestionResets(t *testing.T) {
	a := &fakeAssistant{reply: "ok"}
	s := newTestSession(a)
	s.SetQuestion(quadratic())
	s.SetHelpMode(models.HelpStepByStep)
	ctx := context.Background()

	_, err := s.SubmitStep(ctx, "2x^2-8x+7=0")
	require.NoError(t, err)
	_, err = s.Send(ctx, "hello")
	require.NoError(t, err)

	s.SetHelpMode(models.HelpStepByStep)
	assert.Equal(t, 2, s.State().Step, "same mode keeps progress")

	s.SetHelpMode(models.HelpConceptual)
	st := s.State()
	assert.Empty(t, st.History)
	assert.Equal(t, 1, st.Step)

	_, err = s.SubmitStep(ctx, "2x^2-8x+7=0")
	require.NoError(t, err)
	s.SetQuestion(quadratic())
	assert.Equal(t, 2, s.State().Step, "re-selecting the same question keeps progress")

	other := quadratic()
	other.ID = "4.1.2"
	s.SetQuestion(other)
	assert.Equal(t, 1, s.State().Step)
}

func TestSession_SubmitStep(t *testing.T) {
	a := &fakeAssistant{reply: "Look at the coefficient of x."}
	s := newTestSession(a)
	s.SetQuestion(quadratic())
	s.SetHelpMode(models.HelpStepByStep)
	ctx := context.Background()

	out, err := s.SubmitStep(ctx, "2x^2-8x+7=0")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out.Kind)

	out, err = s.SubmitStep(ctx, "which number is b?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuestion, out.Kind)
	assert.Equal(t, "Look at the coefficient of x.", out.Guidance)
	assert.Contains(t, a.lastPrompt(), `Current step: "Find the discriminant."`)

	a.err = errors.New("down")
	out, err = s.SubmitStep(ctx, "why?")
	assert.Error(t, err)
	assert.Equal(t, models.FallbackStepGuidance, out.Guidance)

	for _, in := range []string{"8", "x = 2 ± √2/2"} {
		_, err := s.SubmitStep(ctx, in)
		require.NoError(t, err)
	}
	st := s.State()
	require.True(t, st.Done)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 3, st.Summary.FirstTry)

	s.Restart()
	assert.False(t, s.State().Done)
}

func TestSession_SubmitStepWithoutSteps(t *testing.T) {
	s := newTestSession(&fakeAssistant{})
	s.SetQuestion(models.Question{ID: "4.1.3", Text: "Explain roots."})
	_, err := s.SubmitStep(context.Background(), "2")
	assert.ErrorIs(t, err, ErrNoSteps)
}

func TestSession_TrySimilar(t *testing.T) {
	s := newTestSession(&fakeAssistant{reply: "ok"})
	s.SetQuestion(quadratic())
	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	text, err := s.TrySimilar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Solve 3x² - 12x + 5 = 0.", text)

	st := s.State()
	assert.Equal(t, text, st.Question.Text)
	assert.Equal(t, "4.1.1-similar", st.Question.ID)
	assert.Empty(t, st.History)
	assert.Empty(t, st.Question.Steps)

	// a second variant is still derived from the original question
	_, err = s.TrySimilar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.1.1-similar", s.State().Question.ID)
}

func TestSession_ConcurrentUse(t *testing.T) {
	s := newTestSession(&fakeAssistant{reply: "ok"})
	s.SetQuestion(quadratic())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Send(context.Background(), "step?")
			_ = s.State()
		}()
	}
	wg.Wait()
	assert.Len(t, s.State().History, 20)
}
