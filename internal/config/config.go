package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAPIKey      = errors.New("missing API key")
	ErrMissingCredentials = errors.New("missing object storage credentials")
	ErrMissingDatabaseURL = errors.New("missing database url")
)

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	EmbedLLM EmbedConfig    `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Tutor    TutorConfig    `yaml:"tutor"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig configures the chat-completion model.
type LLMConfig struct {
	BaseURL             string        `yaml:"base_url"`
	Key                 string        `yaml:"key" validate:"required"`
	Model               string        `yaml:"model" validate:"required"`
	AnswerTemperature   float64       `yaml:"answer_temperature" validate:"gte=0,lte=2"`
	QuestionTemperature float64       `yaml:"question_temperature" validate:"gte=0,lte=2"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxHistory          int           `yaml:"max_history" validate:"gte=0"`
}

// EmbedConfig configures the embedding model.
type EmbedConfig struct {
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key" validate:"required"`
	Model     string `yaml:"model" validate:"required"`
	BatchSize int    `yaml:"batch_size" validate:"gt=0"`
}

type RAGConfig struct {
	ChunkSize      int    `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap   int    `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	Splitter       string `yaml:"splitter" validate:"oneof=window recursive"`
	TopK           int    `yaml:"top_k" validate:"gt=0"`
	IndexPath      string `yaml:"index_path" validate:"required"`
	CollectionName string `yaml:"collection_name" validate:"required"`
	Persist        string `yaml:"persist" validate:"oneof=file postgres"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key" validate:"omitempty,len=32"`
}

// StorageConfig selects the object store holding the course materials.
type StorageConfig struct {
	Provider        string   `yaml:"provider" validate:"oneof=s3 gcs local"`
	Region          string   `yaml:"region" validate:"required_if=Provider s3"`
	AccessKeyID     string   `yaml:"access_key_id" validate:"required_if=Provider s3"`
	SecretAccessKey string   `yaml:"secret_access_key" validate:"required_if=Provider s3"`
	Bucket          string   `yaml:"bucket" validate:"required_unless=Provider local"`
	CredentialsFile string   `yaml:"credentials_file"`
	LocalDir        string   `yaml:"local_dir" validate:"required_if=Provider local"`
	DownloadsDir    string   `yaml:"downloads_dir" validate:"required"`
	Extensions      []string `yaml:"extensions" validate:"min=1"`
}

type DatabaseConfig struct {
	URL   string `yaml:"url" validate:"required"`
	Debug bool   `yaml:"debug"`
}

type TutorConfig struct {
	QuestionsDir     string  `yaml:"questions_dir"`
	AllowContainment bool    `yaml:"allow_containment"`
	NumericTolerance float64 `yaml:"numeric_tolerance"`
	GuardAnswers     bool    `yaml:"guard_answers"`
}

type ServerConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

var validate = validator.New()

// Default returns a config populated with the pipeline defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:             "https://api.openai.com/v1",
			Model:               "gpt-3.5-turbo",
			AnswerTemperature:   0.2,
			QuestionTemperature: 0.7,
			Timeout:             60 * time.Second,
			MaxHistory:          6,
		},
		EmbedLLM: EmbedConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-ada-002",
			BatchSize: 64,
		},
		RAG: RAGConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			Splitter:       "window",
			TopK:           3,
			IndexPath:      "./vectorstore/pdf_vectorstore.gob",
			CollectionName: "course_materials",
			Persist:        "file",
		},
		Storage: StorageConfig{
			Provider:     "s3",
			DownloadsDir: "downloads",
			Extensions:   []string{".pdf"},
		},
		Tutor: TutorConfig{
			QuestionsDir:     "data/questions",
			NumericTolerance: 1e-6,
			GuardAnswers:     true,
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			SessionTTL: time.Hour,
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.LLM.Key == "" {
			c.LLM.Key = v
		}
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = v
		}
	}
	setIfEnv(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setIfEnv(&c.EmbedLLM.BaseURL, "OPENAI_BASE_URL")
	setIfEnv(&c.Storage.Provider, "STORAGE_PROVIDER")
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	switch c.Storage.Provider {
	case "s3":
		setIfEnv(&c.Storage.Region, "AWS_REGION")
		setIfEnv(&c.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
		setIfEnv(&c.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
		setIfEnv(&c.Storage.Bucket, "AWS_BUCKET_NAME")
	case "gcs":
		setIfEnv(&c.Storage.Bucket, "GCS_BUCKET_NAME")
		setIfEnv(&c.Storage.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	}
	setIfEnv(&c.Database.URL, "DATABASE_URL")
	setIfEnv(&c.RAG.EncryptionKey, "INDEX_ENCRYPTION_KEY")
	setIfEnv(&c.Log.Level, "LOG_LEVEL")
}

func setIfEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks the chat model settings.
func (c *LLMConfig) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return ErrMissingAPIKey
	}
	return validate.Struct(c)
}

// Validate checks the embedding model settings.
func (c *EmbedConfig) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return ErrMissingAPIKey
	}
	return validate.Struct(c)
}

func (c *RAGConfig) Validate() error {
	return validate.Struct(c)
}

// Validate reports ErrMissingCredentials when the selected provider lacks
// the fields it needs.
func (c *StorageConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}
