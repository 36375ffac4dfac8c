package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Asset is a produced artifact attached to an episode. At most one asset of
// a given (episode, type) may have IsPrimary=true among non-deleted rows;
// callers must demote siblings in the same transaction that sets a new one.
type Asset struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EpisodeID uuid.UUID `gorm:"type:uuid;not null;index" json:"episode_id"`
	Type      AssetType `gorm:"column:type;not null;index" json:"type"`

	URI      string `gorm:"column:uri;not null" json:"uri"`
	Bucket   string `gorm:"column:bucket" json:"bucket,omitempty"`
	Key      string `gorm:"column:key" json:"key,omitempty"`
	Provider string `gorm:"column:provider" json:"provider,omitempty"`
	ProviderJobID string `gorm:"column:provider_job_id" json:"provider_job_id,omitempty"`

	MimeType string         `gorm:"column:mime_type" json:"mime_type,omitempty"`
	SizeBytes int64         `gorm:"column:size_bytes" json:"size_bytes,omitempty"`
	DurationMS int64        `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	IsPrimary bool `gorm:"column:is_primary;not null;default:false;index" json:"is_primary"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Asset) TableName() string { return "assets" }

// AssetMetadataInfo is the typed view of Asset.Metadata, carrying the checksum
// the Artifact Store Gateway computed on upload.
type AssetMetadataInfo struct {
	ChecksumMD5 string `json:"checksum_md5"`
	Version     int    `json:"version"`
}

// WorkItem is the transient queue payload; the durable source of truth is
// always the Job row it references.
type WorkItem struct {
	JobID     uuid.UUID `json:"job_id"`
	EpisodeID uuid.UUID `json:"episode_id"`
	StageName string    `json:"stage_name"`
	Params    map[string]any `json:"params,omitempty"`
}
