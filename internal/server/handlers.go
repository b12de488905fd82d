package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/embedding"
	"math-tutor/internal/helper"
	"math-tutor/internal/index"
	"math-tutor/internal/llmservice"
	"math-tutor/internal/models"
	"math-tutor/internal/rag"
	"math-tutor/internal/tutor"
)

const (
	timeoutWarning     = "The tutor took too long to respond. Please try again."
	unavailableWarning = "The tutor is unavailable right now. Please try again."
)

// Reply is one tutor message, as markdown and rendered HTML.
type Reply struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Warning  string `json:"warning,omitempty"`
}

type CreateSessionRequest struct {
	Chapter    int    `json:"chapter"`
	Section    string `json:"section"`
	QuestionID string `json:"question_id"`
	HelpMode   string `json:"help_mode"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

type StepRequest struct {
	Answer string `json:"answer"`
}

type ModeRequest struct {
	HelpMode string `json:"help_mode"`
}

type SessionResponse struct {
	Session tutor.State `json:"session"`
	Reply   *Reply      `json:"reply,omitempty"`
}

type StepResponse struct {
	Outcome tutor.Outcome `json:"outcome"`
	Reply   *Reply        `json:"reply,omitempty"`
	Session tutor.State   `json:"session"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":       "ok",
		"index_loaded": s.indexer.Current() != nil,
		"sessions":     s.sessions.Len(),
	}
	if m := s.indexer.Manifest(); m != nil {
		resp["index"] = m
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	chapter, err := strconv.Atoi(r.URL.Query().Get("chapter"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "chapter must be a number")
		return
	}
	section := r.URL.Query().Get("section")
	if section == "" {
		s.respondError(w, http.StatusBadRequest, "section is required")
		return
	}
	qs := s.bank.LoadSection(chapter, section)
	if qs == nil {
		qs = []models.Question{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (s *Server) handleRefreshIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexer.LoadOrCreate(r.Context(), true)
	if errors.Is(err, index.ErrNoSource) {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Index refresh failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if idx == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"indexed": false,
			"warning": "No course materials found to index.",
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"indexed":  true,
		"manifest": s.indexer.Manifest(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q, ok := s.findQuestion(req)
	if !ok {
		s.respondError(w, http.StatusNotFound, "question not found")
		return
	}

	sess, err := s.sessions.Create()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess.SetQuestion(*q)
	sess.SetHelpMode(models.ParseHelpMode(req.HelpMode))
	s.ensureIndex(r)

	text, err := sess.Open(r.Context())
	resp := SessionResponse{Reply: s.reply(text, err)}
	resp.Session = sess.State()
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) findQuestion(req CreateSessionRequest) (*models.Question, bool) {
	if req.QuestionID != "" {
		return s.bank.GetByID(req.QuestionID)
	}
	if req.Section == "" {
		return nil, false
	}
	qs := s.bank.LoadSection(req.Chapter, req.Section)
	if len(qs) == 0 {
		return nil, false
	}
	return &qs[0], true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, SessionResponse{Session: sess.State()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "id")) {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess.SetHelpMode(models.ParseHelpMode(req.HelpMode))
	s.ensureIndex(r)

	text, err := sess.Open(r.Context())
	resp := SessionResponse{Reply: s.reply(text, err)}
	resp.Session = sess.State()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondJSON(w, http.StatusOK, SessionResponse{Session: sess.State()})
		return
	}
	s.ensureIndex(r)

	text, err := sess.Send(r.Context(), req.Text)
	if errors.Is(err, tutor.ErrNoQuestion) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	resp := SessionResponse{Reply: s.reply(text, err)}
	resp.Session = sess.State()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitStep(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ensureIndex(r)

	out, err := sess.SubmitStep(r.Context(), req.Answer)
	if errors.Is(err, tutor.ErrNoQuestion) || errors.Is(err, tutor.ErrNoSteps) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	resp := StepResponse{Outcome: out}
	switch {
	case out.Guidance != "":
		resp.Reply = s.reply(out.Guidance, err)
	case out.Feedback != "":
		resp.Reply = s.reply(out.Feedback, nil)
	}
	resp.Session = sess.State()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Restart()
	s.respondJSON(w, http.StatusOK, SessionResponse{Session: sess.State()})
}

func (s *Server) handleTrySimilar(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	text, err := sess.TrySimilar(r.Context())
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, SessionResponse{
		Session: sess.State(),
		Reply:   s.reply(text, nil),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*tutor.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

// ensureIndex loads the index on first use. Failures surface later as a
// reply warning.
func (s *Server) ensureIndex(r *http.Request) {
	if s.indexer.Current() != nil {
		return
	}
	if _, err := s.indexer.LoadOrCreate(r.Context(), false); err != nil {
		log.Warn().Err(err).Msg("Vector store unavailable")
	}
}

func (s *Server) reply(text string, err error) *Reply {
	if text == "" && err == nil {
		return nil
	}
	out := &Reply{Markdown: text, Warning: warningFor(err)}
	html, rerr := helper.RenderMarkdown(text)
	if rerr != nil {
		log.Warn().Err(rerr).Msg("Failed to render reply")
	}
	out.HTML = html
	return out
}

func warningFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rag.ErrNoIndex), errors.Is(err, index.ErrNotFound):
		return models.NoIndexWarning
	case errors.Is(err, llmservice.ErrNotConfigured), errors.Is(err, embedding.ErrNotConfigured):
		return models.NotConfiguredWarning
	case errors.Is(err, llmservice.ErrTimeout):
		return timeoutWarning
	default:
		return unavailableWarning
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
