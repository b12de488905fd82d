package tutor

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"math-tutor/internal/models"
)

const minGuardedAnswerLen = 3

// AnswerGuard withholds replies that state a known final answer verbatim.
// Short answers such as "8" are too common in explanations to police.
type AnswerGuard struct {
	answers []string
}

func NewAnswerGuard(accepted []string) *AnswerGuard {
	g := &AnswerGuard{}
	for _, a := range accepted {
		if n := Normalize(a); utf8.RuneCountInString(n) >= minGuardedAnswerLen {
			g.answers = append(g.answers, n)
		}
	}
	return g
}

// Leaks reports whether text contains one of the guarded answers.
func (g *AnswerGuard) Leaks(text string) bool {
	if g == nil || len(g.answers) == 0 {
		return false
	}
	n := Normalize(text)
	for _, a := range g.answers {
		if strings.Contains(n, a) {
			return true
		}
	}
	return false
}

// Apply returns text, or the guidance message when text leaks an answer.
func (g *AnswerGuard) Apply(text string) string {
	if g.Leaks(text) {
		log.Warn().Msg("Withheld a reply that stated the final answer")
		return models.GuardedAnswer
	}
	return text
}
