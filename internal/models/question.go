package models

import "strings"

// HelpMode selects the instructional framing wrapped around a question.
type HelpMode string

const (
	HelpConceptual  HelpMode = "Conceptual Help"
	HelpApplication HelpMode = "Application Help"
	HelpStepByStep  HelpMode = "Step-by-Step"
	HelpGeneral     HelpMode = "General"
)

// ParseHelpMode maps user-facing labels (case-insensitive, short forms
// allowed) to a HelpMode. Unknown input maps to HelpGeneral.
func ParseHelpMode(s string) HelpMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conceptual help", "conceptual", "concept":
		return HelpConceptual
	case "application help", "application", "apply":
		return HelpApplication
	case "step-by-step", "step by step", "steps", "step":
		return HelpStepByStep
	default:
		return HelpGeneral
	}
}

type Step struct {
	Instruction  string   `json:"instruction"`
	Hint         string   `json:"hint"`
	Format       string   `json:"format"`
	Placeholder  string   `json:"placeholder"`
	ValidAnswers []string `json:"valid_answers"`
}

type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Type         string   `json:"type"`
	Steps        []Step   `json:"steps"`
	GenericHints []string `json:"generic_hints"`
}

// QuestionFile is the on-disk layout of one chapter/section question bank.
type QuestionFile struct {
	Questions []Question `json:"questions"`
}
