package tutor

import (
	"fmt"
	"strings"

	"math-tutor/internal/metrics"
	"math-tutor/internal/models"
)

type StepProgress struct {
	Completed  bool   `json:"completed"`
	Attempts   int    `json:"attempts"`
	UserAnswer string `json:"user_answer"`
}

type OutcomeKind string

const (
	OutcomeIgnored   OutcomeKind = "ignored"
	OutcomeQuestion  OutcomeKind = "question"
	OutcomeCorrect   OutcomeKind = "correct"
	OutcomeIncorrect OutcomeKind = "incorrect"
	OutcomeFinished  OutcomeKind = "finished"
)

// Outcome is the result of one step submission.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Step is the 1-based step the input was judged against.
	Step     int    `json:"step"`
	Feedback string `json:"feedback,omitempty"`
	// Next is the instruction to show now: the following step after a
	// correct answer, the same step otherwise. Empty once all are done.
	Next     string `json:"next,omitempty"`
	Guidance string `json:"guidance,omitempty"`
	Done     bool   `json:"done"`
}

type Summary struct {
	Steps         int   `json:"steps"`
	FirstTry      int   `json:"first_try"`
	TotalAttempts int   `json:"total_attempts"`
	Attempts      []int `json:"attempts"`
}

// Tracker walks a student through a fixed table of steps.
type Tracker struct {
	steps    []models.Step
	progress []StepProgress
	index    int
	matcher  Matcher
}

func NewTracker(steps []models.Step, matcher Matcher) *Tracker {
	if matcher == nil {
		matcher = Chain{ExactMatcher{}, NumericMatcher{}}
	}
	return &Tracker{
		steps:    steps,
		progress: make([]StepProgress, len(steps)),
		matcher:  matcher,
	}
}

func (t *Tracker) HasSteps() bool { return len(t.steps) > 0 }

// Done reports whether every step has been completed.
func (t *Tracker) Done() bool {
	return t.HasSteps() && t.index >= len(t.steps)
}

// Current returns the 0-based index and the step awaiting an answer.
func (t *Tracker) Current() (int, *models.Step, bool) {
	if t.index >= len(t.steps) {
		return t.index, nil, false
	}
	return t.index, &t.steps[t.index], true
}

func (t *Tracker) Progress() []StepProgress {
	return append([]StepProgress(nil), t.progress...)
}

// Fraction is the share of completed steps.
func (t *Tracker) Fraction() float64 {
	if len(t.steps) == 0 {
		return 0
	}
	done := 0
	for _, p := range t.progress {
		if p.Completed {
			done++
		}
	}
	return float64(done) / float64(len(t.steps))
}

// IsQuestion reports whether input asks something rather than answers.
func IsQuestion(input string) bool {
	return strings.HasSuffix(strings.TrimSpace(input), "?")
}

// Submit judges input against the current step. Blank input and questions
// leave the progress untouched.
func (t *Tracker) Submit(input string) Outcome {
	step, current, ok := t.Current()
	switch {
	case !t.HasSteps():
		return t.record(Outcome{Kind: OutcomeIgnored})
	case !ok:
		return t.record(Outcome{Kind: OutcomeFinished, Step: len(t.steps), Done: true})
	case strings.TrimSpace(input) == "":
		return t.record(Outcome{Kind: OutcomeIgnored, Step: step + 1, Next: current.Instruction})
	case IsQuestion(input):
		return t.record(Outcome{Kind: OutcomeQuestion, Step: step + 1, Next: current.Instruction})
	}

	p := &t.progress[step]
	p.Attempts++
	p.UserAnswer = input

	if !t.matcher.Match(input, current.ValidAnswers) {
		hint := current.Hint
		if hint == "" {
			hint = models.DefaultStepHint
		}
		return t.record(Outcome{
			Kind:     OutcomeIncorrect,
			Step:     step + 1,
			Feedback: "❌ That's not quite right. " + hint,
			Next:     current.Instruction,
		})
	}

	p.Completed = true
	t.index++
	out := Outcome{
		Kind:     OutcomeCorrect,
		Step:     step + 1,
		Feedback: fmt.Sprintf("✅ Correct! Great job on step %d.", step+1),
	}
	if _, next, ok := t.Current(); ok {
		out.Next = next.Instruction
	} else {
		out.Done = true
	}
	return t.record(out)
}

func (t *Tracker) record(o Outcome) Outcome {
	metrics.StepSubmissionsTotal.WithLabelValues(string(o.Kind)).Inc()
	return o
}

// Summary reports per-step attempts; FirstTry counts steps solved on the first attempt.
func (t *Tracker) Summary() Summary {
	s := Summary{Steps: len(t.steps), Attempts: make([]int, len(t.progress))}
	for i, p := range t.progress {
		s.Attempts[i] = p.Attempts
		s.TotalAttempts += p.Attempts
		if p.Completed && p.Attempts == 1 {
			s.FirstTry++
		}
	}
	return s
}

// Restart clears all progress.
func (t *Tracker) Restart() {
	t.index = 0
	t.progress = make([]StepProgress, len(t.steps))
}

// FinalAnswers are the accepted answers of the last step.
func (t *Tracker) FinalAnswers() []string {
	if len(t.steps) == 0 {
		return nil
	}
	return t.steps[len(t.steps)-1].ValidAnswers
}
