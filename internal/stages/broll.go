package stages

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/markers"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/providers"
)

// defaultBrollClipSeconds is the length requested for each generated clip
// when the plan/script gave no other duration hint.
const defaultBrollClipSeconds = 6

// Broll generates one cutaway clip per b-roll prompt: the plan's
// suggestions, supplemented by any inline [BROLL:...] script directions.
// Clips from one stage run share a version number and are named
// b_roll_{i}_v{N}.mp4, 0-indexed in prompt order (plan suggestions
// first, then script directions).
type Broll struct{ Deps *Deps }

func (Broll) Type() string { return string(domain.StageBroll) }

func (b Broll) Run(jc *runtime.Context) error {
	ep, err := b.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StageBroll)
	if err != nil {
		return fail(jc, err)
	}
	if err := b.Deps.beginStage(jc, ep, domain.StageBroll); err != nil {
		return fail(jc, err)
	}
	if b.Deps.Video == nil {
		return b.Deps.failStage(jc, ep, domain.StageBroll, corerr.New(corerr.KindValidation, "no video generation provider configured"))
	}

	var outline domain.PlanOutline
	if len(ep.Plan) > 0 {
		_ = json.Unmarshal(ep.Plan, &outline)
	}
	prompts := append([]string{}, outline.BrollSuggested...)
	if ep.Script != "" {
		segments := markers.Parse(ep.Script)
		for _, seg := range segments {
			if seg.Kind == markers.KindBroll && seg.Text != "" {
				prompts = append(prompts, seg.Text)
			}
		}
	}
	if len(prompts) == 0 {
		return b.Deps.failStage(jc, ep, domain.StageBroll, corerr.New(corerr.KindValidation, "no b-roll prompts found in plan or script"))
	}

	version, err := b.Deps.Assets.NextVersion(dbctx.New(jc.Ctx), ep.ID, domain.AssetBroll)
	if err != nil {
		return b.Deps.failStage(jc, ep, domain.StageBroll, corerr.Wrap(corerr.KindStorageError, "compute b-roll version", err))
	}

	var assetIDs []uuid.UUID
	var totalCost float64
	var totalUnits float64
	for i, prompt := range prompts {
		externalID, err := b.Deps.Video.Submit(jc.Ctx, prompt, "", defaultBrollClipSeconds)
		if err != nil {
			return b.Deps.failStage(jc, ep, domain.StageBroll, err)
		}
		res, err := b.Deps.Video.WaitAndDownload(jc.Ctx, externalID, cancelCheck(jc))
		if err != nil {
			return b.Deps.failStage(jc, ep, domain.StageBroll, err)
		}
		key := fmt.Sprintf("episodes/%s/b_roll_%d_v%d.mp4", ep.ID, i, version)
		asset, err := b.Deps.uploadArtifactAt(jc, b.Deps.AssetsBucket, ep.ID, domain.AssetBroll, key, res.Data, "video/mp4", "video_gen", externalID, version)
		if err != nil {
			return b.Deps.failStage(jc, ep, domain.StageBroll, err)
		}
		assetIDs = append(assetIDs, asset.ID)
		totalCost += res.Usage.EstimatedCostUSD
		totalUnits += res.Usage.UnitsUsed
	}

	usage := providers.Usage{Provider: "video_gen", UnitType: providers.UnitSeconds, UnitsUsed: totalUnits, EstimatedCostUSD: totalCost}
	if err := b.Deps.completeStage(jc, ep, domain.StageBroll, replay, assetIDs, usage, nil); err != nil {
		return b.Deps.failStage(jc, ep, domain.StageBroll, err)
	}

	result := domain.JobResult{AssetIDs: assetIDs, Cost: totalCost}
	return jc.Succeed(result, totalCost, int(totalUnits))
}
