package repos

import (
	"context"
	"github.com/google/uuid"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"time"
)

type WeightContextRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, wc *types.WeightContext) error
	GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, now time.Time) ([]*types.WeightContext, error)
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type weightContextRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWeightContextRepo(db *gorm.DB, baseLog *logger.Logger) WeightContextRepo {
	repoLog := baseLog.With("repo", "WeightContextRepo")
	return &weightContextRepo{db: db, log: repoLog}
}

func (r *weightContextRepo) Upsert(ctx context.Context, tx *gorm.DB, wc *types.WeightContext) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if wc == nil || wc.UserID == uuid.Nil || wc.Context == "" || wc.EngineType == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "context"}, {Name: "engine_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"multiplier", "expires_at", "updated_at"}),
		}).
		Create(wc).Error
}

func (r *weightContextRepo) GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, now time.Time) ([]*types.WeightContext, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.WeightContext
	if userID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *weightContextRepo) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&types.WeightContext{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
