package repos

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"time"
)

type DetectionRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.DetectionRun) ([]*types.DetectionRun, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DetectionRun, error)
	GetLatestByDocumentID(ctx context.Context, tx *gorm.DB, userID, documentID uuid.UUID) (*types.DetectionRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.DetectionRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type detectionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetectionRunRepo(db *gorm.DB, baseLog *logger.Logger) DetectionRunRepo {
	return &detectionRunRepo{
		db:  db,
		log: baseLog.With("repo", "DetectionRunRepo"),
	}
}

func (r *detectionRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.DetectionRun) ([]*types.DetectionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*types.DetectionRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *detectionRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DetectionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DetectionRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *detectionRunRepo) GetLatestByDocumentID(ctx context.Context, tx *gorm.DB, userID, documentID uuid.UUID) (*types.DetectionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || documentID == uuid.Nil {
		return nil, nil
	}
	var run types.DetectionRun
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		Order("created_at DESC").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

// ClaimNextRunnable picks up pending runs, failed runs below the attempt
// budget, and running runs whose heartbeat went stale (a crashed worker).
func (r *detectionRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.DetectionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.DetectionRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run types.DetectionRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.DetectionRunPending, types.DetectionRunFailed, maxAttempts, retryCutoff, types.DetectionRunRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.DetectionRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       types.DetectionRunRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *detectionRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.DetectionRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *detectionRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.DetectionRun{}).
		Where("id = ? AND status = ?", id, types.DetectionRunRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
