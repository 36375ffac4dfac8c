package providers

import (
	"context"
	"encoding/base64"
	"net/http"
)

const costPerCharacter = 0.00003

// SpeechClient serves the audio stage: text to audio bytes, cost by
// character count.
type SpeechClient struct {
	http   *HTTPClient
	ledger *Ledger
	voiceID string
}

func NewSpeechClient(doer Doer, baseURL, apiKey, voiceID string) *SpeechClient {
	ledger := NewLedger("speech", UnitChars)
	headers := http.Header{"Authorization": []string{"Bearer " + apiKey}}
	policy := DefaultRetryPolicy()
	return &SpeechClient{
		http:    NewHTTPClient(doer, baseURL, headers, policy, ledger),
		ledger:  ledger,
		voiceID: voiceID,
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_base64"`
	ContentType string `json:"content_type"`
	DurationMS  int64  `json:"duration_ms"`
}

// Synthesize converts text to audio bytes using the channel's voice
// profile (voiceID overrides the client default when non-empty).
func (c *SpeechClient) Synthesize(ctx context.Context, text, voiceID string) (Result, error) {
	if voiceID == "" {
		voiceID = c.voiceID
	}
	var out synthesizeResponse
	_, _, err := c.http.Call(ctx, http.MethodPost, "/text-to-speech", synthesizeRequest{Text: text, VoiceID: voiceID}, nil, &out)
	if err != nil {
		return Result{}, err
	}
	data, decErr := base64.StdEncoding.DecodeString(out.AudioBase64)
	if decErr != nil {
		data = nil
	}
	c.ledger.AddUnits(float64(len(text)), costPerCharacter)
	return Result{
		Data:          data,
		ContentType:   out.ContentType,
		DurationMS:    out.DurationMS,
		FileSizeBytes: int64(len(data)),
		Usage:         c.ledger.Snapshot(),
	}, nil
}
