package providers

import (
	"context"
	"net/http"

	"github.com/ataxco/contentforge/internal/corerr"
)

// costPerInputToken / costPerOutputToken are illustrative per-token USD
// rates; real values are provider-specific and belong in config, not code.
const (
	costPerInputToken  = 0.0000005
	costPerOutputToken = 0.0000015
)

// TextLLMClient serves planning, scripting, and metadata: chat completion
// with JSON-schema-constrained output, cost by input/output token counts.
type TextLLMClient struct {
	http   *HTTPClient
	ledger *Ledger
	model  string
}

func NewTextLLMClient(doer Doer, baseURL, apiKey, model string) *TextLLMClient {
	ledger := NewLedger("text_llm", UnitTokens)
	headers := http.Header{"Authorization": []string{"Bearer " + apiKey}}
	return &TextLLMClient{
		http:   NewHTTPClient(doer, baseURL, headers, DefaultRetryPolicy(), ledger),
		ledger: ledger,
		model:  model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// GenerateJSON asks the model to respond with an object matching schema,
// returning the raw JSON text of its reply.
func (c *TextLLMClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, Usage, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	if schema != nil {
		reqBody.ResponseFormat = map[string]any{
			"type":        "json_schema",
			"json_schema": schema,
		}
	}

	var out chatCompletionResponse
	_, _, err := c.http.Call(ctx, http.MethodPost, "/chat/completions", reqBody, nil, &out)
	if err != nil {
		return "", Usage{}, err
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, corerr.New(corerr.KindExternalService, "empty completion choices")
	}

	c.ledger.AddUnits(float64(out.Usage.PromptTokens), costPerInputToken)
	c.ledger.AddUnits(float64(out.Usage.CompletionTokens), costPerOutputToken)
	return out.Choices[0].Message.Content, c.ledger.Snapshot(), nil
}

func (c *TextLLMClient) Usage() Usage { return c.ledger.Snapshot() }
