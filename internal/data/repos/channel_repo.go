package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

// ChannelRepo is read-only from the core's point of view: channels are
// created and updated by the out-of-scope ingress API.
type ChannelRepo interface {
	GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Channel, error)
}

type channelRepo struct {
	db *gorm.DB
}

func NewChannelRepo(db *gorm.DB) ChannelRepo {
	return &channelRepo{db: db}
}

func (r *channelRepo) GetByID(dc dbctx.Context, id uuid.UUID) (*domain.Channel, error) {
	var ch domain.Channel
	if err := dc.Resolve(r.db).Where("id = ?", id).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}
