package stages

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/markers"
)

// Scripting turns a plan outline into a marker-annotated script and
// always pauses the episode at script_review: the review gate is
// scripting's terminal act, not a "scripting" status of its own.
type Scripting struct{ Deps *Deps }

func (Scripting) Type() string { return string(domain.StageScripting) }

var scriptSchema = map[string]any{
	"name": "episode_script",
	"schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"script": map[string]any{"type": "string"},
		},
		"required": []string{"script"},
	},
}

type scriptingOutput struct {
	Script string `json:"script"`
}

func (s Scripting) Run(jc *runtime.Context) error {
	ep, err := s.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StageScripting)
	if err != nil {
		return fail(jc, err)
	}
	if err := s.Deps.beginStage(jc, ep, domain.StageScripting); err != nil {
		return fail(jc, err)
	}

	var outline domain.PlanOutline
	if len(ep.Plan) > 0 {
		if err := json.Unmarshal(ep.Plan, &outline); err != nil {
			return s.Deps.failStage(jc, ep, domain.StageScripting, corerr.Wrap(corerr.KindValidation, "decode plan outline", err))
		}
	}
	if outline.Hook == "" {
		return s.Deps.failStage(jc, ep, domain.StageScripting, corerr.New(corerr.KindValidation, "episode has no plan to script from"))
	}

	channel, err := s.Deps.loadChannel(jc, ep.ChannelID)
	if err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, err)
	}
	var style map[string]any
	_ = json.Unmarshal(channel.StyleGuide, &style)

	system := "You are a scriptwriter. Annotate spoken lines with [AVATAR:...] for on-camera delivery, " +
		"[VO:...] for voiceover-only narration, and [BROLL:...] for cutaway footage directions. " +
		"Follow the channel's style guide and the provided outline exactly."
	userPrompt := fmt.Sprintf("Hook: %s\nSections: %v\nCTAs: %v\nB-roll suggestions: %v",
		outline.Hook, outline.Sections, outline.CTAs, outline.BrollSuggested)

	raw, usage, err := s.Deps.Scripting.GenerateJSON(jc.Ctx, system, userPrompt, scriptSchema)
	if err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, err)
	}
	var out scriptingOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, corerr.Wrap(corerr.KindExternalService, "decode script", err))
	}
	if out.Script == "" {
		return s.Deps.failStage(jc, ep, domain.StageScripting, corerr.New(corerr.KindExternalService, "provider returned an empty script"))
	}

	segments := markers.Parse(out.Script)
	var wordCount int
	var durationMS float64
	for _, seg := range segments {
		if seg.Kind == markers.KindBroll {
			continue
		}
		wordCount += len(splitWords(seg.Text))
		durationMS += markers.EstimateDurationMS(seg.Text)
	}
	meta := domain.ScriptMetadata{WordCount: wordCount, EstimatedDurationS: durationMS / 1000.0}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, corerr.Wrap(corerr.KindInternal, "encode script metadata", err))
	}

	asset, err := s.Deps.uploadArtifact(jc, s.Deps.ScriptsBucket, ep.ID, domain.AssetScript, "md", []byte(out.Script), "text/markdown", "text_llm", "")
	if err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, err)
	}

	if err := s.Deps.completeStage(jc, ep, domain.StageScripting, replay,
		[]uuid.UUID{asset.ID}, usage, map[string]any{
			"script":          out.Script,
			"script_metadata": metaJSON,
		}); err != nil {
		return s.Deps.failStage(jc, ep, domain.StageScripting, err)
	}

	result := domain.JobResult{AssetIDs: []uuid.UUID{asset.ID}, Cost: usage.EstimatedCostUSD, DurationS: meta.EstimatedDurationS}
	return jc.Succeed(result, usage.EstimatedCostUSD, int(usage.UnitsUsed))
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
