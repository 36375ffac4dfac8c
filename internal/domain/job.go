package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job is one execution attempt of one stage, or an orchestrator tracker
// (Stage holds "full_pipeline", "stage_1_pipeline", or "pipeline_from_<X>").
// Jobs are immutable execution records: no soft-delete.
type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EpisodeID uuid.UUID `gorm:"type:uuid;not null;index" json:"episode_id"`
	Stage     string    `gorm:"column:stage;not null;index" json:"stage"`
	Status    JobStatus `gorm:"column:status;not null;index" json:"status"`

	ExternalTaskID string `gorm:"column:external_task_id;index" json:"external_task_id,omitempty"`

	InputParams datatypes.JSON `gorm:"column:input_params;type:jsonb" json:"input_params,omitempty"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	ErrorMessage string        `gorm:"column:error_message" json:"error_message,omitempty"`

	RetryCount int `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"column:max_retries;not null;default:3" json:"max_retries"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CostUSD    float64 `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	TokensUsed int     `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

const (
	JobStageFullPipeline  = "full_pipeline"
	JobStageStage1Pipeline = "stage_1_pipeline"
)

// JobStagePipelineFrom names an orchestrator tracker starting from a stage.
func JobStagePipelineFrom(start StageName) string {
	return "pipeline_from_" + string(start)
}

// JobResult is the typed view of Job.Result on a completed stage job.
type JobResult struct {
	AssetIDs []uuid.UUID `json:"asset_ids,omitempty"`
	Cost     float64     `json:"cost_usd,omitempty"`
	DurationS float64    `json:"duration_s,omitempty"`
}
