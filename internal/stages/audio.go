package stages

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/markers"
)

// Audio synthesizes the episode's full spoken track (every segment
// except b-roll cutaway directions, which carry no dialogue) using the
// channel's configured voice profile.
type Audio struct{ Deps *Deps }

func (Audio) Type() string { return string(domain.StageAudio) }

func (a Audio) Run(jc *runtime.Context) error {
	ep, err := a.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StageAudio)
	if err != nil {
		return fail(jc, err)
	}
	if err := a.Deps.beginStage(jc, ep, domain.StageAudio); err != nil {
		return fail(jc, err)
	}
	if a.Deps.Speech == nil {
		return a.Deps.failStage(jc, ep, domain.StageAudio, corerr.New(corerr.KindValidation, "no speech provider configured"))
	}
	if ep.Script == "" {
		return a.Deps.failStage(jc, ep, domain.StageAudio, corerr.New(corerr.KindValidation, "episode has no script to synthesize"))
	}

	channel, err := a.Deps.loadChannel(jc, ep.ChannelID)
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAudio, err)
	}
	var voice domain.ChannelVoiceProfile
	_ = json.Unmarshal(channel.VoiceProfile, &voice)
	if voice.ProviderVoiceID == "" {
		return a.Deps.failStage(jc, ep, domain.StageAudio, corerr.New(corerr.KindValidation, "channel has no voice profile configured"))
	}

	spoken := spokenTrack(ep.Script)
	if spoken == "" {
		return a.Deps.failStage(jc, ep, domain.StageAudio, corerr.New(corerr.KindValidation, "script has no spoken dialogue to synthesize"))
	}

	res, err := a.Deps.Speech.Synthesize(jc.Ctx, spoken, voice.ProviderVoiceID)
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAudio, err)
	}

	asset, err := a.Deps.uploadArtifact(jc, a.Deps.AssetsBucket, ep.ID, domain.AssetAudio, "mp3", res.Data, "audio/mpeg", "speech", "")
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAudio, err)
	}

	if err := a.Deps.completeStage(jc, ep, domain.StageAudio, replay,
		[]uuid.UUID{asset.ID}, res.Usage, nil); err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAudio, err)
	}

	result := domain.JobResult{AssetIDs: []uuid.UUID{asset.ID}, Cost: res.Usage.EstimatedCostUSD, DurationS: res.DurationSeconds()}
	return jc.Succeed(result, res.Usage.EstimatedCostUSD, int(res.Usage.UnitsUsed))
}

// spokenTrack concatenates every segment's text in script order except
// b-roll directions, which are stage directions, not dialogue.
func spokenTrack(script string) string {
	segments := markers.Parse(script)
	var parts []string
	for _, seg := range segments {
		if seg.Kind == markers.KindBroll {
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
