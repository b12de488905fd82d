package rag

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"math-tutor/internal/models"
)

// ComposePrompt frames question for the help mode. The question always
// appears verbatim; unknown modes get the general wrapper.
func ComposePrompt(question string, mode models.HelpMode) string {
	tmpl := models.GeneralPromptTemplate
	switch mode {
	case models.HelpConceptual:
		tmpl = models.ConceptualPromptTemplate
	case models.HelpApplication:
		tmpl = models.ApplicationPromptTemplate
	case models.HelpStepByStep:
		tmpl = models.StepByStepPromptTemplate
	}
	return render(tmpl, map[string]any{"question": question})
}

// TurnQuery describes one student chat turn.
func TurnQuery(question, input string, mode models.HelpMode) string {
	return render(models.TurnQueryTemplate, map[string]any{
		"question": question,
		"input":    input,
		"mode":     string(mode),
	})
}

// MetaQuery is used when the student asks a question instead of answering.
// previous is the last assistant message, if any.
func MetaQuery(question, input string, mode models.HelpMode, previous string) string {
	if strings.TrimSpace(previous) == "" {
		previous = "No previous context"
	}
	return render(models.MetaQueryTemplate, map[string]any{
		"question": question,
		"input":    input,
		"mode":     string(mode),
		"previous": previous,
	})
}

// StepQuery asks for guidance on the current step of a step-by-step problem.
func StepQuery(question, step, input string, mode models.HelpMode) string {
	return render(models.StepQueryTemplate, map[string]any{
		"question": question,
		"step":     step,
		"input":    input,
		"mode":     string(mode),
	})
}

// OpeningPrompt returns the query that seeds a new conversation, or false
// when the mode starts without one.
func OpeningPrompt(question string, mode models.HelpMode) (string, bool) {
	switch mode {
	case models.HelpConceptual:
		return TurnQuery(question, models.ConceptualOpening, mode), true
	case models.HelpApplication:
		return TurnQuery(question, models.ApplicationOpening, mode), true
	default:
		return "", false
	}
}

func render(tmpl string, values map[string]any) string {
	vars := make([]string, 0, len(values))
	for k := range values {
		vars = append(vars, k)
	}
	sort.Strings(vars)

	out, err := prompts.NewPromptTemplate(tmpl, vars).Format(values)
	if err == nil {
		return out
	}

	log.Error().Err(err).Msg("Failed to render prompt template")
	var b strings.Builder
	b.WriteString(tmpl)
	for _, k := range vars {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		if s, ok := values[k].(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}
