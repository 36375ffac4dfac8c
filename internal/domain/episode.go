package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Episode is the pipeline's work unit.
type Episode struct {
	ID          uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChannelID   uuid.UUID     `gorm:"type:uuid;not null;index" json:"channel_id"`
	IdeaSource  IdeaSource    `gorm:"column:idea_source;not null;default:manual" json:"idea_source"`
	Priority    int           `gorm:"column:priority;not null;default:0" json:"priority"`
	Status      EpisodeStatus `gorm:"column:status;not null;index;default:idea" json:"status"`
	AutoAdvance bool          `gorm:"column:auto_advance;not null;default:false" json:"auto_advance"`

	// Content slots. Never mutated once set for a given revision; a stage
	// re-run under force writes a fresh value, it does not edit in place.
	Idea           datatypes.JSON `gorm:"column:idea;type:jsonb" json:"idea,omitempty"`
	Plan           datatypes.JSON `gorm:"column:plan;type:jsonb" json:"plan,omitempty"`
	Script         string         `gorm:"column:script" json:"script,omitempty"`
	ScriptMetadata datatypes.JSON `gorm:"column:script_metadata;type:jsonb" json:"script_metadata,omitempty"`
	EpisodeMeta    datatypes.JSON `gorm:"column:episode_meta;type:jsonb" json:"episode_meta,omitempty"`

	// PipelineState is the authoritative per-stage progress map.
	PipelineState datatypes.JSON `gorm:"column:pipeline_state;type:jsonb" json:"pipeline_state,omitempty"`

	RetryCount   int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError    string     `gorm:"column:last_error" json:"last_error,omitempty"`
	PublishedURL string     `gorm:"column:published_url" json:"published_url,omitempty"`
	PublishedAt  *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Episode) TableName() string { return "episodes" }

// IdeaBrief is the typed view of Episode.Idea for the planning stage.
type IdeaBrief struct {
	Brief string `json:"brief"`
}

// PlanOutline is the typed view of Episode.Plan produced by the planning
// stage and consumed by scripting.
type PlanOutline struct {
	Hook           string   `json:"hook"`
	Sections       []string `json:"sections"`
	CTAs           []string `json:"ctas"`
	BrollSuggested []string `json:"b_roll_suggestions"`
}

// ScriptMetadata is the typed view of Episode.ScriptMetadata produced by
// scripting (word count / estimated duration), distinct from episode_meta
// (SEO) produced by the metadata stage.
type ScriptMetadata struct {
	WordCount         int     `json:"word_count"`
	EstimatedDurationS float64 `json:"estimated_duration_s"`
}

// EpisodeMeta is the typed view of Episode.EpisodeMeta (SEO) produced by
// the metadata stage.
type EpisodeMeta struct {
	TitleVariants    []string `json:"title_variants"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	ThumbnailPrompt  string   `json:"thumbnail_prompt"`
}

// StageProgress is one entry of Episode.PipelineState, keyed by stage name.
type StageProgress struct {
	Status      StageResultStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Error       string            `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`

	CostUSD    float64 `json:"cost_usd,omitempty"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	AssetIDs   []uuid.UUID `json:"asset_ids,omitempty"`
}

// PipelineStateMap decodes/encodes Episode.PipelineState as a typed map;
// JSON columns stay opaque structured records with a typed schema at the
// boundary, never string-keyed reads scattered through callers.
type PipelineStateMap map[StageName]StageProgress

func DecodePipelineState(raw datatypes.JSON) (PipelineStateMap, error) {
	out := PipelineStateMap{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m PipelineStateMap) Encode() (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// HasCompleted reports whether stage s has a completed entry.
func (m PipelineStateMap) HasCompleted(s StageName) bool {
	p, ok := m[s]
	return ok && p.Status == StageCompleted
}
