package stages

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
)

// Planning is the pipeline's first stage: it turns an episode's idea
// brief into a structured outline (hook, sections, CTAs, b-roll
// suggestions) that scripting consumes.
type Planning struct{ Deps *Deps }

func (Planning) Type() string { return string(domain.StagePlanning) }

var planOutlineSchema = map[string]any{
	"name": "plan_outline",
	"schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"hook":               map[string]any{"type": "string"},
			"sections":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"ctas":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"b_roll_suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"hook", "sections", "ctas", "b_roll_suggestions"},
	},
}

func (p Planning) Run(jc *runtime.Context) error {
	ep, err := p.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StagePlanning)
	if err != nil {
		return fail(jc, err)
	}
	if err := p.Deps.beginStage(jc, ep, domain.StagePlanning); err != nil {
		return fail(jc, err)
	}

	var brief domain.IdeaBrief
	if len(ep.Idea) > 0 {
		if err := json.Unmarshal(ep.Idea, &brief); err != nil {
			return p.Deps.failStage(jc, ep, domain.StagePlanning, corerr.Wrap(corerr.KindValidation, "decode idea brief", err))
		}
	}
	if brief.Brief == "" {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, corerr.New(corerr.KindValidation, "episode has no idea brief to plan from"))
	}

	channel, err := p.Deps.loadChannel(jc, ep.ChannelID)
	if err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, err)
	}
	var persona domain.ChannelPersona
	if len(channel.Persona) > 0 {
		_ = json.Unmarshal(channel.Persona, &persona)
	}

	system := fmt.Sprintf(
		"You are a content planner for the channel %q, tone %q, audience %q. "+
			"Produce a structured episode outline as JSON.", persona.Name, persona.Tone, persona.Audience)
	raw, usage, err := p.Deps.Planning.GenerateJSON(jc.Ctx, system, brief.Brief, planOutlineSchema)
	if err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, err)
	}

	var outline domain.PlanOutline
	if err := json.Unmarshal([]byte(raw), &outline); err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, corerr.Wrap(corerr.KindExternalService, "decode plan outline", err))
	}
	planJSON, err := json.Marshal(outline)
	if err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, corerr.Wrap(corerr.KindInternal, "encode plan outline", err))
	}

	asset, err := p.Deps.uploadArtifact(jc, p.Deps.ScriptsBucket, ep.ID, domain.AssetPlan, "json", planJSON, "application/json", "text_llm", "")
	if err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, err)
	}

	if err := p.Deps.completeStage(jc, ep, domain.StagePlanning, replay,
		[]uuid.UUID{asset.ID}, usage, map[string]any{"plan": planJSON}); err != nil {
		return p.Deps.failStage(jc, ep, domain.StagePlanning, err)
	}

	result := domain.JobResult{AssetIDs: []uuid.UUID{asset.ID}, Cost: usage.EstimatedCostUSD}
	return jc.Succeed(result, usage.EstimatedCostUSD, int(usage.UnitsUsed))
}
