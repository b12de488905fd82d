package helper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	_, err = uuid.Parse(a)
	assert.NoError(t, err)
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("Think about **b**.\n\n**Sources:**\n- 4.1.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>b</strong>")
	assert.Contains(t, out, "<li>4.1.pdf</li>")
}
