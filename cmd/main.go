package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/config"
	"math-tutor/internal/embedding"
	"math-tutor/internal/helper"
	"math-tutor/internal/index"
	"math-tutor/internal/llmservice"
	"math-tutor/internal/logger"
	"math-tutor/internal/metrics"
	"math-tutor/internal/models"
	"math-tutor/internal/objectstore"
	"math-tutor/internal/parser"
	"math-tutor/internal/questions"
	"math-tutor/internal/rag"
	"math-tutor/internal/server"
	"math-tutor/internal/tutor"
)

const configFilePath = "./configs/config.yaml"

// app wires every component of the tutor.
type app struct {
	cfg       *config.Config
	store     objectstore.ObjectStore
	manager   *index.Manager
	assistant *rag.Assistant
	bank      *questions.Loader
	deps      tutor.Deps
}

func main() {
	logger.Setup(config.LogConfig{Level: "debug"})

	configPath := flag.String("config", configFilePath, "Path to the config file")
	buildIndex := flag.Bool("index", false, "Load the vector store, building it if course materials changed")
	refresh := flag.Bool("refresh", false, "Rebuild the vector store from the object store")
	query := flag.String("query", "", "Question to answer from the course materials")
	mode := flag.String("mode", "General", "Help mode: Conceptual Help, Application Help, Step-by-Step or General")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	chapter := flag.Int("chapter", 0, "Chapter for an interactive tutoring session")
	section := flag.String("section", "", "Section for an interactive tutoring session, e.g. 4.1")
	questionID := flag.String("question", "", "Question id for an interactive tutoring session, e.g. 4.1.1")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	logger.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register(prometheus.DefaultRegisterer)
	a := newApp(ctx, cfg)
	defer a.Close()

	switch {
	case *buildIndex || *refresh:
		runIndex(ctx, a, *refresh)
	case *query != "":
		runQuery(ctx, a, *query, models.ParseHelpMode(*mode))
	case *serve:
		runServer(ctx, a)
	case *questionID != "" || *section != "":
		runTutor(ctx, a, *chapter, *section, *questionID, models.ParseHelpMode(*mode))
	default:
		log.Fatal().Msg("Please provide one of -index, -refresh, -query, -serve or -section/-question")
	}
}

// newApp builds every component it can. A component whose configuration is
// missing or invalid is logged and left out, and the pieces that depend on it
// degrade: no object store means only a saved index is served, no API key
// means answers fall back to the apology text and similar questions are
// perturbed locally.
func newApp(ctx context.Context, cfg *config.Config) *app {
	a := &app{cfg: cfg, bank: questions.NewLoader(cfg.Tutor.QuestionsDir)}

	if err := cfg.RAG.Validate(); err != nil {
		log.Warn().Err(err).Msg("Invalid rag config, using defaults")
		cfg.RAG = config.Default().RAG
	}

	var source index.Source
	store, err := objectstore.New(ctx, &cfg.Storage)
	if err != nil {
		log.Warn().Err(err).Msg("Object store unavailable, course materials cannot be indexed")
	} else {
		a.store = store
		source = objectstore.NewIngestor(store, cfg.Storage.DownloadsDir, cfg.Storage.Extensions)
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Warn().Err(err).Msg("Embedding model unavailable, retrieval disabled")
		embedder = nil
	}

	persister, err := index.OpenPersister(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("persist", cfg.RAG.Persist).Msg("Index persister unavailable, falling back to file")
		persister = index.NewFilePersister(&cfg.RAG)
	}
	a.manager = index.NewManager(source, embedder, parser.NewSplitter(&cfg.RAG), persister, index.ManagerOptions{
		Collection:     cfg.RAG.CollectionName,
		EmbeddingModel: cfg.EmbedLLM.Model,
	})

	client, err := llmservice.NewClient(&cfg.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("Chat model unavailable, answers disabled")
		client = nil
	}

	retriever := rag.NewRetriever(a.manager, embedder, cfg.RAG.TopK)
	a.assistant = rag.NewAssistant(retriever, client, cfg.LLM.AnswerTemperature, cfg.LLM.MaxHistory)
	a.deps = tutor.Deps{
		Assistant:    a.assistant,
		Generator:    questions.NewGenerator(client, cfg.LLM.QuestionTemperature, nil),
		Matcher:      tutor.NewMatcher(&cfg.Tutor),
		GuardAnswers: cfg.Tutor.GuardAnswers,
	}
	return a
}

func (a *app) Close() {
	if err := a.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing index persister")
	}
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing object store")
	}
}

func (a *app) newServer(gatherer prometheus.Gatherer) *server.Server {
	sessions := server.NewSessionStore(a.cfg.Server.SessionTTL, a.deps)
	return server.NewServer(a.manager, a.bank, sessions, gatherer, &a.cfg.Server)
}

func runIndex(ctx context.Context, a *app, force bool) {
	start := time.Now()
	idx, err := a.manager.LoadOrCreate(ctx, force)
	if err != nil {
		log.Error().Err(err).Msg("Error loading vector store")
		return
	}
	if idx == nil {
		log.Warn().Msg(models.NoIndexWarning)
		return
	}
	log.Info().Dur("took", time.Since(start)).Int("chunks", idx.Len()).Msg("Vector store ready")
	helper.PrettyPrint(a.manager.Manifest())
}

func runQuery(ctx context.Context, a *app, query string, mode models.HelpMode) {
	if _, err := a.manager.LoadOrCreate(ctx, false); err != nil {
		log.Warn().Err(err).Msg("Vector store unavailable")
	}

	ans, err := a.assistant.Answer(ctx, rag.ComposePrompt(query, mode), nil)
	switch {
	case err == nil:
	case errors.Is(err, rag.ErrNoIndex):
		log.Warn().Msg(models.NoIndexWarning)
	case errors.Is(err, llmservice.ErrNotConfigured), errors.Is(err, embedding.ErrNotConfigured):
		log.Warn().Msg(models.NotConfiguredWarning)
	default:
		log.Error().Err(err).Msg("Error answering query")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Println(query)
	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Println(rag.FormatWithSources(ans))
}

func runServer(ctx context.Context, a *app) {
	go func() {
		if _, err := a.manager.LoadOrCreate(ctx, false); err != nil {
			log.Warn().Err(err).Msg("Vector store unavailable at startup")
		}
	}()

	srv := a.newServer(prometheus.DefaultGatherer)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}
}

const tutorHelp = `Commands:
  :mode <name>  switch help mode (conceptual, application, step-by-step, general)
  :restart      start the current question over
  :similar      try a similar question
  :state        show progress
  :quit         leave
Anything else is sent to the tutor. In step-by-step mode it is checked as
the answer to the current step, unless it ends with "?".`

func runTutor(ctx context.Context, a *app, chapter int, section, questionID string, mode models.HelpMode) {
	q, ok := pickQuestion(a.bank, chapter, section, questionID)
	if !ok {
		log.Fatal().Int("chapter", chapter).Str("section", section).Str("question", questionID).Msg("Question not found")
	}
	if _, err := a.manager.LoadOrCreate(ctx, false); err != nil {
		log.Warn().Err(err).Msg("Vector store unavailable")
	}
	if a.manager.Current() == nil {
		fmt.Println(models.NoIndexWarning)
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating session")
	}
	sess := tutor.NewSession(id, a.deps)
	sess.SetQuestion(*q)
	sess.SetHelpMode(mode)

	fmt.Printf("Question %s: %s\n\n%s\n\n", q.ID, q.Text, tutorHelp)
	open(ctx, sess)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ":quit":
			return
		case line == ":restart":
			sess.Restart()
			open(ctx, sess)
		case line == ":state":
			helper.PrettyPrint(sess.State())
		case line == ":similar":
			text, err := sess.TrySimilar(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("New question: %s\n", text)
			open(ctx, sess)
		case strings.HasPrefix(line, ":mode"):
			sess.SetHelpMode(models.ParseHelpMode(strings.TrimPrefix(line, ":mode")))
			fmt.Printf("Mode: %s\n", sess.State().HelpMode)
			open(ctx, sess)
		case sess.State().HelpMode == models.HelpStepByStep:
			submitStep(ctx, sess, line)
		default:
			reply, _ := sess.Send(ctx, line)
			fmt.Println(reply)
		}
	}
}

func pickQuestion(bank *questions.Loader, chapter int, section, questionID string) (*models.Question, bool) {
	if questionID != "" {
		return bank.GetByID(questionID)
	}
	qs := bank.LoadSection(chapter, section)
	if len(qs) == 0 {
		return nil, false
	}
	return &qs[0], true
}

func open(ctx context.Context, sess *tutor.Session) {
	st := sess.State()
	if st.HelpMode == models.HelpStepByStep && len(st.Progress) > 0 && !st.Done {
		fmt.Printf("Step %d: %s\n", st.Step, st.Question.Steps[st.Step-1].Instruction)
		return
	}
	reply, _ := sess.Open(ctx)
	if reply != "" {
		fmt.Println(reply)
	}
}

func submitStep(ctx context.Context, sess *tutor.Session, line string) {
	out, err := sess.SubmitStep(ctx, line)
	if errors.Is(err, tutor.ErrNoSteps) {
		fmt.Println("This question has no predefined steps. Switch modes with :mode.")
		return
	}
	switch out.Kind {
	case tutor.OutcomeQuestion:
		fmt.Println(out.Guidance)
		return
	case tutor.OutcomeFinished:
		fmt.Println("All steps are complete. Use :restart or :similar.")
		return
	}
	fmt.Println(out.Feedback)
	if out.Done {
		helper.PrettyPrint(sess.State().Summary)
		return
	}
	if out.Next != "" {
		fmt.Printf("Step %d: %s\n", sess.State().Step, out.Next)
	}
}
