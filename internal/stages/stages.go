// Package stages holds the six runtime.Handler implementations that do
// the pipeline's actual content-generation work: planning, scripting,
// metadata, audio, avatar, broll. Each follows the same four-step shape:
// load episode/channel state, prepare the provider request from
// prior-stage artifacts, invoke the provider client, commit the result
// (artifact upload + asset row + episode fields + pipeline_state +
// status transition) in one pass. Handlers report
// outcomes only through runtime.Context; they never touch the Job row.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/providers"
	"github.com/ataxco/contentforge/internal/storage"
)

// Deps is the shared dependency set every stage executor is constructed
// with; individual handlers only use the subset they need.
type Deps struct {
	Episodes repos.EpisodeRepo
	Channels repos.ChannelRepo
	Assets   repos.AssetRepo

	Storage       storage.Gateway
	AssetsBucket  string
	ScriptsBucket string

	Planning  *providers.TextLLMClient
	Scripting *providers.TextLLMClient
	Metadata  *providers.TextLLMClient
	Speech    *providers.SpeechClient
	Avatar    *providers.AvatarVideoClient
	Video     *providers.VideoGenClient
}

func (d *Deps) dc(ctx context.Context) dbctx.Context { return dbctx.New(ctx) }

// loadEpisode fetches the job's episode, failing the job with not_found
// if it has vanished (e.g. hard-deleted out from under a queued job).
func (d *Deps) loadEpisode(jc *runtime.Context) (*domain.Episode, error) {
	ep, err := d.Episodes.GetByID(d.dc(jc.Ctx), jc.Job.EpisodeID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "load episode", err)
	}
	if ep == nil {
		return nil, corerr.New(corerr.KindNotFound, "episode not found")
	}
	return ep, nil
}

func (d *Deps) loadChannel(jc *runtime.Context, id uuid.UUID) (*domain.Channel, error) {
	ch, err := d.Channels.GetByID(d.dc(jc.Ctx), id)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "load channel", err)
	}
	if ch == nil {
		return nil, corerr.New(corerr.KindNotFound, "channel not found")
	}
	return ch, nil
}

// requirePrecondition enforces the per-stage precondition table. A stage
// already sitting at its own result status is a replay (force re-run) and
// is let through without a second status advance. An episode parked in
// failed or cancelled may re-enter the chain at any stage whose prior
// stages all completed, which is how job.retry and the run_from_stage
// entry point resume work.
func requirePrecondition(ep *domain.Episode, stage domain.StageName) (replay bool, err error) {
	pre := stage.Precondition()
	if ep.Status == pre {
		return false, nil
	}
	if result, ok := stage.ResultStatus(); ok && ep.Status == result {
		return true, nil
	}
	if ep.Status == domain.EpisodeFailed || ep.Status == domain.EpisodeCancelled {
		if state, derr := domain.DecodePipelineState(ep.PipelineState); derr == nil {
			satisfied := true
			for _, prior := range stage.PriorStages() {
				if !state.HasCompleted(prior) {
					satisfied = false
					break
				}
			}
			if satisfied {
				return false, nil
			}
		}
	}
	return false, corerr.New(corerr.KindPipeline, fmt.Sprintf(
		"episode status %q does not satisfy %s's precondition %q", ep.Status, stage, pre))
}

func decodePipelineState(ep *domain.Episode) (domain.PipelineStateMap, error) {
	return domain.DecodePipelineState(ep.PipelineState)
}

// beginStage marks the stage running in pipeline_state before any
// provider work starts, so pipeline_status reports started_at and a
// live "running" entry while the executor is mid-flight.
func (d *Deps) beginStage(jc *runtime.Context, ep *domain.Episode, stage domain.StageName) error {
	state, err := decodePipelineState(ep)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "decode pipeline_state", err)
	}
	now := time.Now()
	prior := state[stage]
	state[stage] = domain.StageProgress{
		Status:    domain.StageRunning2,
		StartedAt: &now,
		UpdatedAt: now,
		Attempts:  prior.Attempts,
	}
	encoded, err := state.Encode()
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "encode pipeline_state", err)
	}
	if err := d.Episodes.UpdateFields(d.dc(jc.Ctx), ep.ID, map[string]any{"pipeline_state": encoded}); err != nil {
		return corerr.Wrap(corerr.KindStorageError, "mark stage running", err)
	}
	ep.PipelineState = encoded
	return nil
}

// failStage records the failure on the episode's pipeline_state entry and
// last_error before failing the job, so per-stage error and attempt
// history is readable without joining against the jobs table.
func (d *Deps) failStage(jc *runtime.Context, ep *domain.Episode, stage domain.StageName, cause error) error {
	// A cancelled job's state belongs to episode.cancel, not to this
	// worker: leave pipeline_state alone and drop the failure.
	if cancelled, cErr := jc.Cancelled(); cErr == nil && cancelled {
		return nil
	}
	if state, derr := decodePipelineState(ep); derr == nil {
		now := time.Now()
		prior := state[stage]
		state[stage] = domain.StageProgress{
			Status:    domain.StageFailed2,
			StartedAt: prior.StartedAt,
			UpdatedAt: now,
			Attempts:  prior.Attempts + 1,
			Error:     cause.Error(),
		}
		if encoded, encErr := state.Encode(); encErr == nil {
			_ = d.Episodes.UpdateFields(d.dc(jc.Ctx), ep.ID, map[string]any{
				"pipeline_state": encoded,
				"last_error":     cause.Error(),
			})
		}
	}
	return fail(jc, cause)
}

// completeStage persists the stage's pipeline_state entry, its content
// column updates, and (unless the stage is metadata, or this is a replay
// of an already-completed stage) advances episode.status via a
// compare-and-swap guarded on the status observed at load still holding.
func (d *Deps) completeStage(jc *runtime.Context, ep *domain.Episode, stage domain.StageName, replay bool, assetIDs []uuid.UUID, usage providers.Usage, contentUpdates map[string]any) error {
	state, err := decodePipelineState(ep)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "decode pipeline_state", err)
	}
	now := time.Now()
	prior := state[stage]
	attempts := prior.Attempts + 1
	state[stage] = domain.StageProgress{
		Status:      domain.StageCompleted,
		StartedAt:   prior.StartedAt,
		CompletedAt: &now,
		UpdatedAt:   now,
		Attempts:    attempts,
		CostUSD:     usage.EstimatedCostUSD,
		TokensUsed:  int(usage.UnitsUsed),
		AssetIDs:    assetIDs,
	}
	encoded, err := state.Encode()
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "encode pipeline_state", err)
	}
	if contentUpdates == nil {
		contentUpdates = map[string]any{}
	}
	contentUpdates["pipeline_state"] = encoded

	dc := d.dc(jc.Ctx)

	resultStatus, advances := stage.ResultStatus()
	if !advances || replay {
		return d.Episodes.UpdateFields(dc, ep.ID, contentUpdates)
	}

	if err := d.Episodes.UpdateFields(dc, ep.ID, contentUpdates); err != nil {
		return corerr.Wrap(corerr.KindStorageError, "update episode content", err)
	}
	// Swap from the status observed at load time, not the table's
	// precondition: an episode resuming out of failed/cancelled advances
	// from there directly.
	ok, err := d.Episodes.CompareAndSwapStatus(dc, ep.ID, ep.Status, resultStatus)
	if err != nil {
		return corerr.Wrap(corerr.KindStorageError, "advance episode status", err)
	}
	if !ok {
		return corerr.New(corerr.KindConflict, "episode status changed concurrently; refusing to advance")
	}
	return nil
}

// uploadArtifact stores data at the canonical content-addressed key and
// records it as the (episode, type)'s new primary asset.
func (d *Deps) uploadArtifact(jc *runtime.Context, bucket string, episodeID uuid.UUID, assetType domain.AssetType, ext string, data []byte, contentType string, provider, providerJobID string) (*domain.Asset, error) {
	dc := d.dc(jc.Ctx)
	version, err := d.Assets.NextVersion(dc, episodeID, assetType)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "compute asset version", err)
	}
	key := storage.Key(episodeID.String(), string(assetType), version, ext)
	return d.uploadArtifactAt(jc, bucket, episodeID, assetType, key, data, contentType, provider, providerJobID, version)
}

// uploadArtifactWithKey uploads under a caller-chosen key outside the
// canonical key pattern, computing the next asset version itself.
func (d *Deps) uploadArtifactWithKey(jc *runtime.Context, bucket string, episodeID uuid.UUID, assetType domain.AssetType, key string, data []byte, contentType string, provider, providerJobID string) (*domain.Asset, error) {
	dc := d.dc(jc.Ctx)
	version, err := d.Assets.NextVersion(dc, episodeID, assetType)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "compute asset version", err)
	}
	return d.uploadArtifactAt(jc, bucket, episodeID, assetType, key, data, contentType, provider, providerJobID, version)
}

func (d *Deps) uploadArtifactAt(jc *runtime.Context, bucket string, episodeID uuid.UUID, assetType domain.AssetType, key string, data []byte, contentType, provider, providerJobID string, version int) (*domain.Asset, error) {
	res, err := d.Storage.Upload(jc.Ctx, bucket, key, data, contentType)
	if err != nil {
		return nil, err
	}
	meta, _ := json.Marshal(domain.AssetMetadataInfo{ChecksumMD5: res.Checksum, Version: version})
	asset := &domain.Asset{
		EpisodeID:     episodeID,
		Type:          assetType,
		URI:           res.URI,
		Bucket:        bucket,
		Key:           key,
		Provider:      provider,
		ProviderJobID: providerJobID,
		MimeType:      contentType,
		SizeBytes:     res.Size,
		Metadata:      datatypes.JSON(meta),
	}
	if err := d.Assets.CreatePrimary(d.dc(jc.Ctx), asset); err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "create asset record", err)
	}
	return asset, nil
}

// cancelCheck adapts runtime.Context.Cancelled to the providers package's
// poll-loop cancellation hook.
func cancelCheck(jc *runtime.Context) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) { return jc.Cancelled() }
}

// fail records the error on the job and swallows it: Run returns nil so
// the worker's panic-safety-net Fail("internal", ...) never double-fires
// with a less precise kind.
func fail(jc *runtime.Context, err error) error {
	_ = jc.Fail(string(corerr.KindOf(err)), err.Error())
	return nil
}
