package tutor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"math-tutor/internal/config"
)

var glyphs = strings.NewReplacer(
	"²", "^2",
	"³", "^3",
	"−", "-",
	"–", "-",
	"×", "*",
	"·", "*",
)

// Normalize puts an answer in canonical form for comparison: lower case,
// no whitespace, ASCII exponent and operator glyphs.
func Normalize(s string) string {
	s = glyphs.Replace(strings.ToLower(strings.TrimSpace(s)))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Matcher decides whether a student's input matches one of the accepted answers.
type Matcher interface {
	Match(input string, accepted []string) bool
}

// ExactMatcher accepts inputs equal to an accepted answer after normalization.
type ExactMatcher struct{}

func (ExactMatcher) Match(input string, accepted []string) bool {
	in := Normalize(input)
	if in == "" {
		return false
	}
	for _, a := range accepted {
		if Normalize(a) == in {
			return true
		}
	}
	return false
}

var numericAnswer = regexp.MustCompile(`^(?:([a-z][a-z0-9_]*)=)?(-?\d+(?:\.\d+)?)(?:/(-?\d+(?:\.\d+)?))?$`)

// NumericMatcher accepts numbers within Tolerance of an accepted number,
// so "x = 3.0" matches "3" and "1/2" matches "0.5". A variable prefix must
// agree when both sides have one.
type NumericMatcher struct {
	Tolerance float64
}

func (m NumericMatcher) Match(input string, accepted []string) bool {
	inVar, in, ok := parseNumeric(Normalize(input))
	if !ok {
		return false
	}
	tol := m.Tolerance
	if tol <= 0 {
		tol = 1e-9
	}
	for _, a := range accepted {
		aVar, want, ok := parseNumeric(Normalize(a))
		if !ok {
			continue
		}
		if inVar != "" && aVar != "" && inVar != aVar {
			continue
		}
		if math.Abs(in-want) <= tol {
			return true
		}
	}
	return false
}

func parseNumeric(s string) (string, float64, bool) {
	m := numericAnswer.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return "", 0, false
	}
	if m[3] != "" {
		d, err := strconv.ParseFloat(m[3], 64)
		if err != nil || d == 0 {
			return "", 0, false
		}
		v /= d
	}
	return m[1], v, true
}

// ContainsMatcher accepts inputs containing an accepted answer. It is lenient
// and can accept wrong answers that embed a right one.
type ContainsMatcher struct{}

func (ContainsMatcher) Match(input string, accepted []string) bool {
	in := Normalize(input)
	if in == "" {
		return false
	}
	for _, a := range accepted {
		if n := Normalize(a); n != "" && strings.Contains(in, n) {
			return true
		}
	}
	return false
}

// Chain accepts when any of its matchers does, trying them in order.
type Chain []Matcher

func (c Chain) Match(input string, accepted []string) bool {
	for _, m := range c {
		if m.Match(input, accepted) {
			return true
		}
	}
	return false
}

// NewMatcher builds the configured chain: exact, then numeric, then
// containment when enabled.
func NewMatcher(cfg *config.TutorConfig) Matcher {
	chain := Chain{ExactMatcher{}, NumericMatcher{Tolerance: cfg.NumericTolerance}}
	if cfg.AllowContainment {
		chain = append(chain, ContainsMatcher{})
	}
	return chain
}
