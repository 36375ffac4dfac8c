package orchestrator

import (
	"strings"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
)

// ChainFunc builds the stage chain for one tracking job invocation. It
// is called fresh on every Run, not just at registration, so a
// pipeline_from_<stage> tracker can read a per-request skip set out of
// the tracking job's own input params.
type ChainFunc func(jc *runtime.Context) ([]Stage, error)

// TrackerHandler adapts a stage chain builder to runtime.Handler so the
// worker pool's registry can dispatch tracking jobs (full_pipeline,
// stage_1_pipeline, pipeline_from_<stage>) the same way it dispatches
// individual stage jobs.
type TrackerHandler struct {
	JobType string
	Chain   ChainFunc
	Engine  *Engine
}

// NewTrackerHandler builds a handler for a chain fixed at registration
// time (full_pipeline, stage_1_pipeline).
func NewTrackerHandler(jobType string, chain []Stage, engine *Engine) TrackerHandler {
	return TrackerHandler{JobType: jobType, Chain: func(*runtime.Context) ([]Stage, error) { return chain, nil }, Engine: engine}
}

// NewDynamicTrackerHandler builds a handler whose chain is computed per
// run from the tracking job's own state (pipeline_from_<stage>).
func NewDynamicTrackerHandler(jobType string, chain ChainFunc, engine *Engine) TrackerHandler {
	return TrackerHandler{JobType: jobType, Chain: chain, Engine: engine}
}

func (h TrackerHandler) Type() string { return h.JobType }

func (h TrackerHandler) Run(jc *runtime.Context) error {
	chain, err := h.Chain(jc)
	if err != nil {
		kind := string(corerr.KindOf(err))
		return jc.Fail(kind, strings.TrimPrefix(err.Error(), kind+": "))
	}
	return h.Engine.Run(jc, chain)
}
