package stages

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/markers"
)

// Avatar renders the on-camera talking-head video for every [AVATAR:...]
// line in the script via the submit/poll/download provider contract.
type Avatar struct{ Deps *Deps }

func (Avatar) Type() string { return string(domain.StageAvatar) }

func (a Avatar) Run(jc *runtime.Context) error {
	ep, err := a.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StageAvatar)
	if err != nil {
		return fail(jc, err)
	}
	if err := a.Deps.beginStage(jc, ep, domain.StageAvatar); err != nil {
		return fail(jc, err)
	}
	if a.Deps.Avatar == nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, corerr.New(corerr.KindValidation, "no avatar video provider configured"))
	}
	if ep.Script == "" {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, corerr.New(corerr.KindValidation, "episode has no script to render"))
	}

	channel, err := a.Deps.loadChannel(jc, ep.ChannelID)
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, err)
	}
	var profile domain.ChannelAvatarProfile
	_ = json.Unmarshal(channel.AvatarProfile, &profile)
	if profile.ProviderAvatarID == "" {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, corerr.New(corerr.KindValidation, "channel has no avatar profile configured"))
	}

	segments := markers.Parse(ep.Script)
	avatarText := markers.Extract(segments, markers.KindAvatar)
	if avatarText == "" {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, corerr.New(corerr.KindValidation, "script has no [AVATAR:...] lines to render"))
	}

	externalID, err := a.Deps.Avatar.Submit(jc.Ctx, profile.ProviderAvatarID, profile.ProviderVoiceID, avatarText, profile.Background)
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, err)
	}

	res, err := a.Deps.Avatar.WaitAndDownload(jc.Ctx, externalID, cancelCheck(jc))
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, err)
	}

	asset, err := a.Deps.uploadArtifact(jc, a.Deps.AssetsBucket, ep.ID, domain.AssetAvatarVideo, "mp4", res.Data, "video/mp4", "avatar_video", externalID)
	if err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, err)
	}

	if err := a.Deps.completeStage(jc, ep, domain.StageAvatar, replay,
		[]uuid.UUID{asset.ID}, res.Usage, nil); err != nil {
		return a.Deps.failStage(jc, ep, domain.StageAvatar, err)
	}

	result := domain.JobResult{AssetIDs: []uuid.UUID{asset.ID}, Cost: res.Usage.EstimatedCostUSD, DurationS: res.DurationSeconds()}
	return jc.Succeed(result, res.Usage.EstimatedCostUSD, int(res.Usage.UnitsUsed))
}
