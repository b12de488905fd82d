package llmservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"math-tutor/internal/config"
	"math-tutor/internal/llmservice/llmtest"
	"math-tutor/internal/models"
)

func TestBuildMessages(t *testing.T) {
	history := []models.Turn{
		{Role: models.RoleUser, Content: "what is a vertex?"},
		{Role: models.RoleAssistant, Content: "the turning point"},
	}
	msgs := BuildMessages("be Socratic", history, "and the axis?")
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "and the axis?", llmtest.Text(msgs[3]))

	msgs = BuildMessages("", nil, "hi")
	require.Len(t, msgs, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
}

func TestClient_Complete(t *testing.T) {
	fake := &llmtest.FakeModel{Reply: "Think about the discriminant."}
	c := NewClientWithModel(fake, time.Second)

	got, err := c.Complete(context.Background(), BuildMessages("", nil, "help"), 0.2)
	require.NoError(t, err)
	assert.Equal(t, "Think about the discriminant.", got)
	assert.InDelta(t, 0.2, fake.LastCall().Temperature, 1e-9)
}

func TestClient_CompleteError(t *testing.T) {
	boom := errors.New("502 bad gateway")
	c := NewClientWithModel(&llmtest.FakeModel{Err: boom}, time.Second)

	_, err := c.Complete(context.Background(), BuildMessages("", nil, "help"), 0.2)
	assert.ErrorIs(t, err, boom)
}

func TestClient_Timeout(t *testing.T) {
	c := NewClientWithModel(&llmtest.FakeModel{Block: true}, 20*time.Millisecond)

	_, err := c.Complete(context.Background(), BuildMessages("", nil, "help"), 0.2)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient(&config.LLMConfig{Model: "gpt-3.5-turbo"})
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestNewClient_OpenAICompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Start by isolating x."},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := NewClient(&config.LLMConfig{BaseURL: srv.URL, Key: "sk-test", Model: "gpt-3.5-turbo", Timeout: 5 * time.Second})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), BuildMessages("sys", nil, "help"), 0.2)
	require.NoError(t, err)
	assert.Equal(t, "Start by isolating x.", got)
}

func TestClient_NilFailsWithNotConfigured(t *testing.T) {
	var c *Client
	_, err := c.Complete(context.Background(), BuildMessages("", nil, "hi"), 0.2)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
