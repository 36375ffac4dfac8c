package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Channel is read-only to the core; it is created and updated by the
// out-of-scope ingress API and consumed here only as configuration input to
// stage executors.
type Channel struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Slug             string         `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	ExternalPlatformID string       `gorm:"column:external_platform_id" json:"external_platform_id,omitempty"`
	Persona          datatypes.JSON `gorm:"column:persona;type:jsonb" json:"persona,omitempty"`
	StyleGuide       datatypes.JSON `gorm:"column:style_guide;type:jsonb" json:"style_guide,omitempty"`
	VoiceProfile     datatypes.JSON `gorm:"column:voice_profile;type:jsonb" json:"voice_profile,omitempty"`
	AvatarProfile    datatypes.JSON `gorm:"column:avatar_profile;type:jsonb" json:"avatar_profile,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Channel) TableName() string { return "channels" }

// ChannelPersona is the typed view of Channel.Persona; stage executors
// decode into this rather than reading the JSON column by string key.
type ChannelPersona struct {
	Name    string   `json:"name"`
	Tone    string   `json:"tone"`
	Values  []string `json:"values"`
	Audience string  `json:"audience"`
}

type ChannelVoiceProfile struct {
	ProviderVoiceID string  `json:"provider_voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ChannelAvatarProfile struct {
	ProviderAvatarID string `json:"provider_avatar_id"`
	ProviderVoiceID  string `json:"provider_voice_id"`
	Background       string `json:"background"`
}
