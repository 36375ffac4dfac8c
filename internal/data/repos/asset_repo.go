package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

type AssetRepo interface {
	// CreatePrimary creates asset with IsPrimary=true, demoting any
	// existing primary of the same (episode, type) in the same
	// transaction, so at most one row per (episode, type) is primary.
	CreatePrimary(dc dbctx.Context, asset *domain.Asset) error
	GetPrimary(dc dbctx.Context, episodeID uuid.UUID, assetType domain.AssetType) (*domain.Asset, error)
	ListByEpisode(dc dbctx.Context, episodeID uuid.UUID) ([]*domain.Asset, error)
	NextVersion(dc dbctx.Context, episodeID uuid.UUID, assetType domain.AssetType) (int, error)
}

type assetRepo struct {
	db *gorm.DB
}

func NewAssetRepo(db *gorm.DB) AssetRepo {
	return &assetRepo{db: db}
}

func (r *assetRepo) resolve(dc dbctx.Context) *gorm.DB {
	return dc.Resolve(r.db)
}

func (r *assetRepo) CreatePrimary(dc dbctx.Context, asset *domain.Asset) error {
	tx := r.resolve(dc)
	asset.IsPrimary = true
	return tx.Transaction(func(t *gorm.DB) error {
		if err := t.Model(&domain.Asset{}).
			Where("episode_id = ? AND type = ? AND is_primary = true", asset.EpisodeID, asset.Type).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return t.Create(asset).Error
	})
}

func (r *assetRepo) GetPrimary(dc dbctx.Context, episodeID uuid.UUID, assetType domain.AssetType) (*domain.Asset, error) {
	var a domain.Asset
	err := r.resolve(dc).
		Where("episode_id = ? AND type = ? AND is_primary = true", episodeID, assetType).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assetRepo) ListByEpisode(dc dbctx.Context, episodeID uuid.UUID) ([]*domain.Asset, error) {
	var assets []*domain.Asset
	err := r.resolve(dc).Where("episode_id = ?", episodeID).Order("created_at ASC").Find(&assets).Error
	return assets, err
}

func (r *assetRepo) NextVersion(dc dbctx.Context, episodeID uuid.UUID, assetType domain.AssetType) (int, error) {
	var count int64
	err := r.resolve(dc).Model(&domain.Asset{}).
		Unscoped().
		Where("episode_id = ? AND type = ?", episodeID, assetType).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count) + 1, nil
}
