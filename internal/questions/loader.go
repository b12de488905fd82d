package questions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/models"
)

var (
	sectionNumber = regexp.MustCompile(models.SectionNumberRegex)
	slugUnsafe    = regexp.MustCompile(`[^a-z0-9_.]+`)
)

// errOutsideDir is returned for bank paths that resolve outside the questions dir.
var errOutsideDir = errors.New("question bank path escapes questions dir")

// Loader reads question banks named chapter<N>_section<key>.json from a
// directory and caches each bank once read.
type Loader struct {
	dir   string
	cache *cache.Cache
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: cache.New(30*time.Minute, time.Hour)}
}

// SectionKey reduces a section label to its file-name key: the leading
// major.minor number when there is one, otherwise a lower-case slug of
// [a-z0-9_.] only.
func SectionKey(section string) string {
	section = strings.TrimSpace(section)
	if m := sectionNumber.FindStringSubmatch(section); m != nil {
		return m[1]
	}
	key := strings.ToLower(section)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "&", "and")
	return slugUnsafe.ReplaceAllString(key, "")
}

func (l *Loader) fileName(chapter int, key string) string {
	return fmt.Sprintf("chapter%d_section%s.json", chapter, key)
}

// bankPath joins the bank file name onto the questions dir and refuses
// anything that does not stay directly inside it.
func (l *Loader) bankPath(chapter int, key string) (string, error) {
	name := l.fileName(chapter, key)
	if name != filepath.Base(name) {
		return "", errOutsideDir
	}
	path := filepath.Join(l.dir, name)
	rel, err := filepath.Rel(l.dir, path)
	if err != nil || rel != name {
		return "", errOutsideDir
	}
	return path, nil
}

// LoadSection returns the questions of one chapter section. A missing or
// unreadable bank yields no questions and a log entry.
func (l *Loader) LoadSection(chapter int, section string) []models.Question {
	key := SectionKey(section)
	cacheKey := fmt.Sprintf("%d_%s", chapter, key)
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cached.([]models.Question)
	}

	path, err := l.bankPath(chapter, key)
	if err != nil {
		log.Warn().Err(err).Int("chapter", chapter).Str("section", key).Msg("Rejected question bank lookup")
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Int("chapter", chapter).Str("section", key).Msg("No questions found")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Error loading questions")
		return nil
	}

	var file models.QuestionFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Error parsing questions")
		return nil
	}

	l.cache.SetDefault(cacheKey, file.Questions)
	log.Debug().Int("chapter", chapter).Str("section", key).Int("questions", len(file.Questions)).Msg("Loaded question bank")
	return file.Questions
}

// GetByID finds a question by its id, "<chapter>.<section minor>.<n>" as
// in "4.1.2", which lives in the bank of chapter 4 section 4.1.
func (l *Loader) GetByID(id string) (*models.Question, bool) {
	parts := strings.Split(strings.TrimSpace(id), ".")
	if len(parts) < 3 {
		return nil, false
	}
	chapter, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, false
	}
	for _, q := range l.LoadSection(chapter, parts[0]+"."+parts[1]) {
		if q.ID == id {
			return &q, true
		}
	}
	return nil, false
}
