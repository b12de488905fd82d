package questions

import (
	"context"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"math-tutor/internal/llmservice"
	"math-tutor/internal/models"
)

const maxQuestionLength = 1000 // characters

var numberLiteral = regexp.MustCompile(models.NumberRegex)

var variableAlternatives = map[rune][]rune{
	'x': {'y', 'z', 't'},
	'y': {'x', 'z', 'w'},
	'f': {'g', 'h', 'F'},
}

// Generator produces practice variants of a question.
type Generator struct {
	client      *llmservice.Client
	temperature float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator uses client for generation and rng for the local fallback.
// A nil client always falls back; a nil rng is seeded from the clock.
func NewGenerator(client *llmservice.Client, temperature float64, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Generator{client: client, temperature: temperature, rng: rng}
}

// GenerateSimilar asks the chat model for a variant of question. When the
// call fails the question is perturbed locally instead. It never returns an
// empty string.
func (g *Generator) GenerateSimilar(ctx context.Context, question, questionType string) string {
	if questionType == "" {
		questionType = "general"
	}
	if g.client != nil {
		similar, err := g.generate(ctx, question, questionType)
		if err == nil {
			return similar
		}
		log.Error().Err(err).Msg("Failed to generate similar question, using fallback")
	}
	return g.Fallback(question)
}

func (g *Generator) generate(ctx context.Context, question, questionType string) (string, error) {
	prompt, err := prompts.NewPromptTemplate(models.SimilarQuestionPromptTemplate, []string{"question", "type"}).
		Format(map[string]any{"question": question, "type": questionType})
	if err != nil {
		return "", err
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
	reply, err := g.client.Complete(ctx, messages, g.temperature)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", llmservice.ErrEmptyResponse
	}
	return truncate(reply, maxQuestionLength), nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// Fallback jitters every number in question and renames its standalone
// variables. Any question containing a number comes back changed.
func (g *Generator) Fallback(question string) string {
	if strings.TrimSpace(question) == "" {
		return models.SimilarQuestionFailed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := numberLiteral.ReplaceAllStringFunc(question, g.jitter)
	return g.renameVariables(out)
}

// jitter keeps the literal's sign, its integer-ness and roughly its
// magnitude, and never returns the same value.
func (g *Generator) jitter(lit string) string {
	num, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	sign := 1.0
	if strings.HasPrefix(lit, "-") {
		sign = -1
	}

	if !strings.Contains(lit, ".") {
		var n float64
		if num == 0 {
			n = sign * float64(1+g.rng.IntN(9))
		} else {
			n = math.Round(num * (0.7 + 0.6*g.rng.Float64()))
			if n == num {
				n = num + sign
			}
		}
		if n == 0 {
			n = sign
		}
		return strconv.FormatInt(int64(n), 10)
	}

	var n float64
	if math.Abs(num) < 1 {
		n = sign * round2(0.1+0.8*g.rng.Float64())
	} else {
		n = round2(num * (0.7 + 0.6*g.rng.Float64()))
	}
	if n == num {
		magnitude := 0.1
		if math.Abs(num) >= 1 {
			magnitude = math.Pow(10, math.Floor(math.Log10(math.Abs(num))))
		}
		n = round2(num + sign*0.1*magnitude)
	}
	s := strconv.FormatFloat(n, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// renameVariables swaps every standalone x, y and f for an alternative not
// already used in the text. All swaps happen in one pass.
func (g *Generator) renameVariables(text string) string {
	runes := []rune(text)
	present := map[rune]bool{}
	for i, r := range runes {
		if standalone(runes, i) {
			present[r] = true
		}
	}

	mapping := map[rune]rune{}
	taken := map[rune]bool{}
	for r := range present {
		taken[r] = true
	}
	for _, v := range []rune{'x', 'y', 'f'} {
		if !present[v] {
			continue
		}
		var options []rune
		for _, alt := range variableAlternatives[v] {
			if !taken[alt] {
				options = append(options, alt)
			}
		}
		if len(options) == 0 {
			continue
		}
		alt := options[g.rng.IntN(len(options))]
		mapping[v] = alt
		taken[alt] = true
	}
	if len(mapping) == 0 {
		return text
	}

	for i, r := range runes {
		if alt, ok := mapping[r]; ok && standalone(runes, i) {
			runes[i] = alt
		}
	}
	return string(runes)
}

// standalone reports whether runes[i] is a letter with no letter on either side.
func standalone(runes []rune, i int) bool {
	if !unicode.IsLetter(runes[i]) {
		return false
	}
	if i > 0 && unicode.IsLetter(runes[i-1]) {
		return false
	}
	if i+1 < len(runes) && unicode.IsLetter(runes[i+1]) {
		return false
	}
	return true
}
