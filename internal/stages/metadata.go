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

// Metadata generates SEO metadata (title variants, description, tags,
// thumbnail prompt) from the finished script. It never advances
// episode.status: metadata and audio share the same script_review
// precondition and run independently of each other.
type Metadata struct{ Deps *Deps }

func (Metadata) Type() string { return string(domain.StageMetadata) }

var episodeMetaSchema = map[string]any{
	"name": "episode_metadata",
	"schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title_variants":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"description":      map[string]any{"type": "string"},
			"tags":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"thumbnail_prompt": map[string]any{"type": "string"},
		},
		"required": []string{"title_variants", "description", "tags", "thumbnail_prompt"},
	},
}

func (m Metadata) Run(jc *runtime.Context) error {
	ep, err := m.Deps.loadEpisode(jc)
	if err != nil {
		return fail(jc, err)
	}
	replay, err := requirePrecondition(ep, domain.StageMetadata)
	if err != nil {
		return fail(jc, err)
	}
	if err := m.Deps.beginStage(jc, ep, domain.StageMetadata); err != nil {
		return fail(jc, err)
	}
	if ep.Script == "" {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, corerr.New(corerr.KindValidation, "episode has no script to derive metadata from"))
	}

	channel, err := m.Deps.loadChannel(jc, ep.ChannelID)
	if err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, err)
	}
	var persona domain.ChannelPersona
	_ = json.Unmarshal(channel.Persona, &persona)

	segments := markers.Parse(ep.Script)
	spoken := markers.Extract(segments, markers.KindNarration) + " " + markers.Extract(segments, markers.KindVoiceover) +
		" " + markers.Extract(segments, markers.KindAvatar)

	system := fmt.Sprintf("You write SEO metadata for the channel %q, audience %q. Produce a JSON object.", persona.Name, persona.Audience)
	raw, usage, err := m.Deps.Metadata.GenerateJSON(jc.Ctx, system, spoken, episodeMetaSchema)
	if err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, err)
	}
	var out domain.EpisodeMeta
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, corerr.Wrap(corerr.KindExternalService, "decode episode metadata", err))
	}
	metaJSON, err := json.Marshal(out)
	if err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, corerr.Wrap(corerr.KindInternal, "encode episode metadata", err))
	}

	asset, err := m.Deps.uploadArtifact(jc, m.Deps.ScriptsBucket, ep.ID, domain.AssetMetadata, "json", metaJSON, "application/json", "text_llm", "")
	if err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, err)
	}

	if err := m.Deps.completeStage(jc, ep, domain.StageMetadata, replay,
		[]uuid.UUID{asset.ID}, usage, map[string]any{"episode_meta": metaJSON}); err != nil {
		return m.Deps.failStage(jc, ep, domain.StageMetadata, err)
	}

	result := domain.JobResult{AssetIDs: []uuid.UUID{asset.ID}, Cost: usage.EstimatedCostUSD}
	return jc.Succeed(result, usage.EstimatedCostUSD, int(usage.UnitsUsed))
}
