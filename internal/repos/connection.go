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

type ConnectionRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, conns []*types.Connection) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Connection, error)
	GetBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error)
	GetByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error)
	UpdateFlags(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteAutoDetectedBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) (int64, error)
}

type connectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConnectionRepo(db *gorm.DB, baseLog *logger.Logger) ConnectionRepo {
	repoLog := baseLog.With("repo", "ConnectionRepo")
	return &connectionRepo{db: db, log: repoLog}
}

// CreateBatch inserts a detection batch. Re-runs hit the identity unique
// index, so conflicting rows are left untouched rather than duplicated.
func (r *connectionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, conns []*types.Connection) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(conns) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_chunk_id"}, {Name: "target_chunk_id"}, {Name: "engine_type"}},
			DoNothing: true,
		}).
		Create(&conns).Error
}

func (r *connectionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Connection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Connection
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *connectionRepo) GetBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Connection
	if len(chunkIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("source_chunk_id IN ?", chunkIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetByChunkIDs loads connections touching any of the chunks from either
// endpoint; connections are directional rows but queryable both ways.
func (r *connectionRepo) GetByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Connection
	if len(chunkIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("source_chunk_id IN ? OR target_chunk_id IN ?", chunkIDs, chunkIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteAutoDetectedBySourceChunkIDs clears a rerun's slate: auto-detected
// rows the user never touched are pruned so a fresh detection pass replaces
// them instead of accumulating on top. Confirmed and hidden rows are user
// data and survive.
func (r *connectionRepo) DeleteAutoDetectedBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("source_chunk_id IN ? AND auto_detected = ? AND user_confirmed = ? AND user_hidden = ?", chunkIDs, true, false, false).
		Delete(&types.Connection{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *connectionRepo) UpdateFlags(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Connection{}).
		Where("id = ?", id).
		Updates(updates).Error
}
