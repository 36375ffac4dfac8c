package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextLLMClient_GenerateJSON_ReturnsContentAndAccumulatesUsage(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{
		"choices":[{"message":{"role":"assistant","content":"{\"title\":\"hi\"}"}}],
		"usage":{"prompt_tokens":100,"completion_tokens":20}
	}`}}}
	c := NewTextLLMClient(doer, "https://api.example.com", "secret-key", "gpt-4o-mini")

	content, usage, err := c.GenerateJSON(context.Background(), "system", "user", map[string]any{"type": "object"})
	require.NoError(t, err)
	require.Equal(t, `{"title":"hi"}`, content)
	require.Equal(t, float64(120), usage.UnitsUsed)
	require.Greater(t, usage.EstimatedCostUSD, 0.0)

	require.Len(t, doer.requests, 1)
	require.Equal(t, "Bearer secret-key", doer.requests[0].Header.Get("Authorization"))
}

func TestTextLLMClient_GenerateJSON_EmptyChoicesIsExternalService(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"choices":[],"usage":{}}`}}}
	c := NewTextLLMClient(doer, "https://api.example.com", "key", "gpt-4o-mini")

	_, _, err := c.GenerateJSON(context.Background(), "s", "u", nil)
	require.Error(t, err)
}

func TestTextLLMClient_GenerateJSON_OmitsResponseFormatWhenSchemaNil(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"choices":[{"message":{"content":"ok"}}],"usage":{}}`}}}
	c := NewTextLLMClient(doer, "https://api.example.com", "key", "gpt-4o-mini")

	_, _, err := c.GenerateJSON(context.Background(), "s", "u", nil)
	require.NoError(t, err)
}

func TestTextLLMClient_Usage_ReflectsLedgerSnapshot(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`}}}
	c := NewTextLLMClient(doer, "https://api.example.com", "key", "gpt-4o-mini")

	_, _, err := c.GenerateJSON(context.Background(), "s", "u", nil)
	require.NoError(t, err)
	require.Equal(t, float64(15), c.Usage().UnitsUsed)
}
