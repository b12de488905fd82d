package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "STORAGE_PROVIDER", "AWS_REGION",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_BUCKET_NAME", "GCS_BUCKET_NAME",
		"GOOGLE_APPLICATION_CREDENTIALS", "DATABASE_URL", "INDEX_ENCRYPTION_KEY", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, 0.2, cfg.LLM.AnswerTemperature)
	assert.Equal(t, 0.7, cfg.LLM.QuestionTemperature)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{".pdf"}, cfg.Storage.Extensions)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: gpt-4o-mini
  timeout: 15s
rag:
  chunk_size: 500
  chunk_overlap: 50
storage:
  provider: GCS
`), 0o644))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GCS_BUCKET_NAME", "course-bucket")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, "sk-test", cfg.LLM.Key)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "gcs", cfg.Storage.Provider)
	assert.Equal(t, "course-bucket", cfg.Storage.Bucket)
	// untouched values keep their defaults
	assert.Equal(t, 3, cfg.RAG.TopK)
}

func TestLoadConfig_BucketEnvFollowsProvider(t *testing.T) {
	for _, tc := range []struct {
		provider, bucket, region string
	}{
		{"s3", "aws-course", "eu-west-1"},
		{"gcs", "gcs-course", ""},
		{"local", "", ""},
	} {
		t.Run(tc.provider, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STORAGE_PROVIDER", tc.provider)
			t.Setenv("AWS_BUCKET_NAME", "aws-course")
			t.Setenv("AWS_REGION", "eu-west-1")
			t.Setenv("GCS_BUCKET_NAME", "gcs-course")

			cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
			require.NoError(t, err)
			assert.Equal(t, tc.provider, cfg.Storage.Provider)
			assert.Equal(t, tc.bucket, cfg.Storage.Bucket)
			assert.Equal(t, tc.region, cfg.Storage.Region)
		})
	}
}

func TestLLMConfig_Validate(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.LLM.Validate(), ErrMissingAPIKey)
	assert.ErrorIs(t, cfg.EmbedLLM.Validate(), ErrMissingAPIKey)

	cfg.LLM.Key = "sk-test"
	assert.NoError(t, cfg.LLM.Validate())
}

func TestStorageConfig_Validate(t *testing.T) {
	cfg := Default()
	err := cfg.Storage.Validate()
	assert.ErrorIs(t, err, ErrMissingCredentials)

	cfg.Storage.Region = "us-east-1"
	cfg.Storage.AccessKeyID = "id"
	cfg.Storage.SecretAccessKey = "secret"
	cfg.Storage.Bucket = "bucket"
	assert.NoError(t, cfg.Storage.Validate())

	local := Default().Storage
	local.Provider = "local"
	local.LocalDir = t.TempDir()
	assert.NoError(t, local.Validate())
}

func TestRAGConfig_Validate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.RAG.Validate())

	cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize
	assert.Error(t, cfg.RAG.Validate())

	cfg = Default()
	cfg.RAG.EncryptionKey = "short"
	assert.Error(t, cfg.RAG.Validate())
}
