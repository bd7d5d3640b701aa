package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"time"
)

const (
	DetectionRunPending   = "pending"
	DetectionRunRunning   = "running"
	DetectionRunCompleted = "completed"
	DetectionRunFailed    = "failed"
)

type DetectionRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	DocumentID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	Status         string         `gorm:"column:status;not null;index" json:"status"` // pending|running|completed|failed
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	ChunksTotal    int            `gorm:"column:chunks_total;not null;default:0" json:"chunks_total"`
	ChunksFailed   int            `gorm:"column:chunks_failed;not null;default:0" json:"chunks_failed"`
	BatchesSkipped int            `gorm:"column:batches_skipped;not null;default:0" json:"batches_skipped"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error          string         `gorm:"column:error" json:"error"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt       *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt    *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (DetectionRun) TableName() string {
	return "detection_run"
}
