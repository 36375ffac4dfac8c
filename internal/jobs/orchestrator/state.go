// Package orchestrator is the pipeline orchestrator: it walks an
// ordered chain of stages, dispatching each as a genuine child Job row
// the worker pool claims and runs like any other, and tracks chain
// progress on its own tracking Job's result column. Every stage is
// dispatched as a child job, because every stage calls an external
// provider and must survive a worker restart mid-flight.
package orchestrator

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type StageStatus string

const (
	StagePending      StageStatus = "pending"
	StageWaitingChild StageStatus = "waiting_child"
	StageSucceeded    StageStatus = "succeeded"
	StageFailed       StageStatus = "failed"
)

// StageState is one chain stage's tracked progress, keyed by stage name
// in OrchestratorState.Stages.
type StageState struct {
	Status     StageStatus `json:"status"`
	ChildJobID string      `json:"child_job_id,omitempty"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// OrchestratorState is the tracking Job's Result column, persisted after
// every stage transition so a crashed orchestrator resumes by rediscovering
// its already-dispatched child job IDs rather than re-dispatching them.
type OrchestratorState struct {
	Version int                    `json:"version"`
	Stages  map[string]*StageState `json:"stages"`
}

func (s *OrchestratorState) ensure() {
	if s.Stages == nil {
		s.Stages = map[string]*StageState{}
	}
}

// EnsureStage returns the StageState for name, creating a pending entry
// if one doesn't exist yet.
func (s *OrchestratorState) EnsureStage(name string) *StageState {
	s.ensure()
	if s.Stages[name] == nil {
		s.Stages[name] = &StageState{Status: StagePending}
	}
	return s.Stages[name]
}

// DecodeState decodes a tracking job's Result column, defaulting to an
// empty state for a fresh orchestrator run.
func DecodeState(raw datatypes.JSON) (*OrchestratorState, error) {
	st := &OrchestratorState{Version: 1}
	if len(raw) == 0 || string(raw) == "null" {
		st.ensure()
		return st, nil
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	st.ensure()
	return st, nil
}

func (s *OrchestratorState) Encode() (datatypes.JSON, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
