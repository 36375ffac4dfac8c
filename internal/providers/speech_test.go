package providers

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func bodyOf(req *http.Request) []byte {
	b, _ := io.ReadAll(req.Body)
	return b
}

func TestSpeechClient_Synthesize_DecodesAudioAndTracksCostByCharacters(t *testing.T) {
	audio := []byte("fake-mp3-bytes")
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{
		"audio_base64":"` + base64.StdEncoding.EncodeToString(audio) + `",
		"content_type":"audio/mpeg",
		"duration_ms":4200
	}`}}}
	c := NewSpeechClient(doer, "https://api.example.com", "key", "voice-default")

	res, err := c.Synthesize(context.Background(), "hello world", "")
	require.NoError(t, err)
	require.Equal(t, audio, res.Data)
	require.Equal(t, "audio/mpeg", res.ContentType)
	require.Equal(t, int64(4200), res.DurationMS)
	require.Equal(t, int64(len(audio)), res.FileSizeBytes)
	require.Equal(t, float64(len("hello world")), res.Usage.UnitsUsed)
}

func TestSpeechClient_Synthesize_VoiceIDOverridesDefault(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"audio_base64":"","content_type":"audio/mpeg","duration_ms":0}`}}}
	c := NewSpeechClient(doer, "https://api.example.com", "key", "voice-default")

	_, err := c.Synthesize(context.Background(), "hi", "voice-override")
	require.NoError(t, err)
	require.Contains(t, string(bodyOf(doer.requests[0])), "voice-override")
}

func TestSpeechClient_Synthesize_MalformedBase64YieldsNilDataNotError(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResp{{status: 200, body: `{"audio_base64":"not-valid-base64!!","content_type":"audio/mpeg","duration_ms":0}`}}}
	c := NewSpeechClient(doer, "https://api.example.com", "key", "voice-default")

	res, err := c.Synthesize(context.Background(), "hi", "")
	require.NoError(t, err)
	require.Nil(t, res.Data)
}
