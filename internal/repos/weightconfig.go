package repos

import (
	"context"
	"github.com/google/uuid"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WeightConfigRepo interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.WeightConfig, error)
	Upsert(ctx context.Context, tx *gorm.DB, cfg *types.WeightConfig) error
}

type weightConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWeightConfigRepo(db *gorm.DB, baseLog *logger.Logger) WeightConfigRepo {
	repoLog := baseLog.With("repo", "WeightConfigRepo")
	return &weightConfigRepo{db: db, log: repoLog}
}

func (r *weightConfigRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.WeightConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var cfg types.WeightConfig
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.UserID == uuid.Nil {
		return nil, nil
	}
	return &cfg, nil
}

// Upsert replaces the whole row in one statement so readers never observe a
// half-applied weight vector.
func (r *weightConfigRepo) Upsert(ctx context.Context, tx *gorm.DB, cfg *types.WeightConfig) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cfg == nil || cfg.UserID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"weights", "engine_order", "max_connections_per_chunk", "max_connections_per_engine", "updated_at"}),
		}).
		Create(cfg).Error
}
