package orchestrator

import (
	"fmt"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

// Tracking job Stage values: what dispatch records on the
// tracking Job row so the command surface can tell run_full apart from
// run_stage_1 apart from run_from_stage(X) at a glance.
const (
	TrackerFullPipeline  = domain.JobStageFullPipeline
	TrackerStage1Pipeline = domain.JobStageStage1Pipeline
)

// FullChain is run_full: every stage in canonical order.
func FullChain() []Stage {
	return chainFrom(domain.CanonicalChain)
}

// Stage1Chain is run_stage_1: planning, scripting, metadata only — the
// chain stops once the episode reaches script_review for human review.
func Stage1Chain() []Stage {
	return chainFrom(domain.Stage1Chain)
}

// FullChainFunc builds the run_full chain per episode: an episode that
// has not opted into auto_advance pauses at script_review, so its "full"
// run is the stage-1 chain and the operator resumes with advance() after
// review. auto_advance=true walks every stage straight through.
func FullChainFunc(episodes repos.EpisodeRepo) ChainFunc {
	return func(jc *runtime.Context) ([]Stage, error) {
		ep, err := episodes.GetByID(dbctx.Context{Ctx: jc.Ctx}, jc.Job.EpisodeID)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindStorageError, "load episode", err)
		}
		if ep == nil {
			return nil, corerr.New(corerr.KindNotFound, "episode not found")
		}
		if !ep.AutoAdvance {
			return Stage1Chain(), nil
		}
		return FullChain(), nil
	}
}

// FromStageChain is run_from_stage(start, skip?): the canonical chain
// truncated to start at `start`, with `skip` stages omitted from the
// walk. Validated against domain's declared PriorStages so a caller can't skip
// a stage whose precondition the remaining chain can't actually supply.
func FromStageChain(start domain.StageName, skip map[domain.StageName]bool) ([]Stage, error) {
	startIdx := -1
	for i, s := range domain.CanonicalChain {
		if s == start {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, corerr.New(corerr.KindValidation, fmt.Sprintf("unknown start stage %q", start))
	}
	remaining := domain.CanonicalChain[startIdx:]

	// A prior stage before `start` in canonical order is assumed already
	// satisfied by the episode's current status unless it is named in
	// `skip`; priors within the walked remainder must actually be kept
	// (not skipped).
	satisfied := map[domain.StageName]bool{}
	for _, s := range domain.CanonicalChain[:startIdx] {
		if !skip[s] {
			satisfied[s] = true
		}
	}
	satisfied[start] = true

	var out []Stage
	for _, s := range remaining {
		if skip[s] {
			continue
		}
		for _, prior := range s.PriorStages() {
			if !satisfied[prior] {
				return nil, corerr.New(corerr.KindValidation, fmt.Sprintf(
					"cannot run %q: its prerequisite %q is skipped or outside the requested chain", s, prior))
			}
		}
		satisfied[s] = true
		out = append(out, Stage{Name: s})
	}
	return out, nil
}

func chainFrom(names []domain.StageName) []Stage {
	out := make([]Stage, len(names))
	for i, n := range names {
		out[i] = Stage{Name: n}
	}
	return out
}

// JobStageFromStageName names an orchestrator tracker starting from a
// given stage, delegating to the domain package's canonical formatter.
func JobStageFromStageName(start domain.StageName) string {
	return domain.JobStagePipelineFrom(start)
}

// FromStageChainFunc builds a ChainFunc for a pipeline_from_<start>
// tracker, reading an optional "skip" string array out of the tracking
// job's input params on every run.
func FromStageChainFunc(start domain.StageName) ChainFunc {
	return func(jc *runtime.Context) ([]Stage, error) {
		skip := map[domain.StageName]bool{}
		if raw, ok := jc.Params()["skip"]; ok {
			if list, ok := raw.([]any); ok {
				for _, v := range list {
					if s, ok := v.(string); ok {
						skip[domain.StageName(s)] = true
					}
				}
			}
		}
		return FromStageChain(start, skip)
	}
}
