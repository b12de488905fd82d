package questions

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-tutor/internal/llmservice"
	"math-tutor/internal/llmservice/llmtest"
	"math-tutor/internal/models"
)

func TestSectionKey(t *testing.T) {
	assert.Equal(t, "4.1", SectionKey("4.1"))
	assert.Equal(t, "4.1", SectionKey("4.1 Quadratic Functions"))
	assert.Equal(t, "limits_and_continuity", SectionKey("Limits & Continuity"))
	assert.Equal(t, "review", SectionKey(" Review "))
	assert.Equal(t, "x....tmpevil", SectionKey("x/../../tmp/evil"))
	assert.Equal(t, "ab", SectionKey(`a\\b`))
}

func TestLoader_StaysInsideQuestionsDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "questions")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "outside"), 0o755))
	secret := `{"questions":[{"id":"leak","text":"not part of the bank"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside", "evil.json"), []byte(secret), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chapter4_sectionx.json"), []byte(secret), 0o644))

	l := NewLoader(dir)
	assert.Nil(t, l.LoadSection(4, "x/../../outside/evil"))
	assert.Nil(t, l.LoadSection(4, "../chapter4_sectionx"))

	_, err := l.bankPath(4, "x/../../outside/evil")
	assert.ErrorIs(t, err, errOutsideDir)
	path, err := l.bankPath(4, "4.1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chapter4_section4.1.json"), path)
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	bank := `{"questions":[{"id":"4.1.1","text":"Solve x + 2 = 5","type":"linear","steps":[{"instruction":"Subtract 2","valid_answers":["x = 3"]}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chapter4_section4.1.json"), []byte(bank), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chapter5_sectionbroken.json"), []byte("{"), 0o644))

	l := NewLoader(dir)
	qs := l.LoadSection(4, "4.1 Quadratics")
	require.Len(t, qs, 1)
	assert.Equal(t, "Subtract 2", qs[0].Steps[0].Instruction)

	// cached after the first read
	require.NoError(t, os.Remove(filepath.Join(dir, "chapter4_section4.1.json")))
	assert.Len(t, l.LoadSection(4, "4.1"), 1)

	q, ok := l.GetByID("4.1.1")
	require.True(t, ok)
	assert.Equal(t, "Solve x + 2 = 5", q.Text)

	_, ok = l.GetByID("4.1.9")
	assert.False(t, ok)
	_, ok = l.GetByID("bogus")
	assert.False(t, ok)

	assert.Empty(t, l.LoadSection(9, "9.9"))
	assert.Empty(t, l.LoadSection(5, "broken"))
}

func TestLoader_SampleBank(t *testing.T) {
	l := NewLoader(filepath.Join("..", "..", "data", "questions"))
	q, ok := l.GetByID("4.1.1")
	require.True(t, ok)
	assert.Contains(t, q.Text, "2x² - 8x + 7 = 0")
	assert.NotEmpty(t, q.Steps)
}

func newGenerator(model *llmtest.FakeModel, seed uint64) *Generator {
	var client *llmservice.Client
	if model != nil {
		client = llmservice.NewClientWithModel(model, 50*time.Millisecond)
	}
	return NewGenerator(client, 0.7, rand.New(rand.NewPCG(seed, seed)))
}

func TestGenerateSimilar_UsesModel(t *testing.T) {
	fake := &llmtest.FakeModel{Reply: "\n  Solve 3x² - 12x + 5 = 0.  \n"}
	g := newGenerator(fake, 1)

	got := g.GenerateSimilar(context.Background(), "Solve 2x² - 8x + 7 = 0.", "quadratic_formula")
	assert.Equal(t, "Solve 3x² - 12x + 5 = 0.", got)

	call := fake.LastCall()
	assert.InDelta(t, 0.7, call.Temperature, 1e-9)
	prompt := llmtest.Text(call.Messages[0])
	assert.Contains(t, prompt, "Original Question: Solve 2x² - 8x + 7 = 0.")
	assert.Contains(t, prompt, "If this is a quadratic_formula type question")

	g.GenerateSimilar(context.Background(), "Solve 2x = 4", "")
	assert.Contains(t, llmtest.Text(fake.LastCall().Messages[0]), "If this is a general type question")
}

func TestGenerateSimilar_Truncates(t *testing.T) {
	g := newGenerator(&llmtest.FakeModel{Reply: strings.Repeat("é", 1500)}, 1)
	got := g.GenerateSimilar(context.Background(), "Solve x = 1", "")
	assert.Equal(t, 1003, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestGenerateSimilar_FallbackChangesNumbers(t *testing.T) {
	questions := []string{
		"Solve 2x² - 8x + 7 = 0.",
		"A ball is thrown at 12.5 m/s from a height of 0.75 m.",
		"Evaluate f(3) for f(x) = -4x + 1",
		"What is 0 + 0?",
	}
	for seed := uint64(0); seed < 50; seed++ {
		g := newGenerator(&llmtest.FakeModel{Err: errors.New("timeout")}, seed)
		for _, q := range questions {
			got := g.GenerateSimilar(context.Background(), q, "")
			require.NotEqual(t, q, got, "seed %d", seed)
			assert.NotEqual(t, numbers(q), numbers(got), "seed %d: %q -> %q", seed, q, got)
		}
	}
}

var literal = regexp.MustCompile(models.NumberRegex)

func numbers(s string) []string {
	return literal.FindAllString(s, -1)
}

func TestJitter_PreservesShape(t *testing.T) {
	g := newGenerator(nil, 7)
	for range 200 {
		for _, lit := range []string{"7", "-8", "1", "-1", "0", "12.5", "-0.75", "0.5", "100"} {
			out := g.jitter(lit)
			assert.NotEqual(t, lit, out)
			assert.Equal(t, strings.HasPrefix(lit, "-"), strings.HasPrefix(out, "-"), "%s -> %s", lit, out)
			assert.Equal(t, strings.Contains(lit, "."), strings.Contains(out, "."), "%s -> %s", lit, out)

			orig, _ := strconv.ParseFloat(lit, 64)
			got, err := strconv.ParseFloat(out, 64)
			require.NoError(t, err)
			if orig >= 10 || orig <= -10 {
				assert.InDelta(t, orig, got, 0.31*abs(orig)+1)
			}
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestRenameVariables(t *testing.T) {
	g := newGenerator(nil, 3)

	got := g.renameVariables("Find f(x) when x is 2 and y = x")
	assert.Contains(t, got, "Find", "words are left alone")
	assert.NotContains(t, got, "f(x)")

	// x may not become y while y is also used
	for seed := uint64(0); seed < 30; seed++ {
		g := newGenerator(nil, seed)
		out := g.renameVariables("y = 2x + 1")
		runes := []rune(out)
		assert.NotEqual(t, runes[0], runes[5], "seed %d: %s", seed, out)
	}

	assert.Equal(t, "The box holds 3 apples", g.renameVariables("The box holds 3 apples"))
}

func TestFallback_Empty(t *testing.T) {
	g := newGenerator(nil, 1)
	assert.Equal(t, models.SimilarQuestionFailed, g.GenerateSimilar(context.Background(), "   ", ""))
}
