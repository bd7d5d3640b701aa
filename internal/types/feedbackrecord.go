package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"time"
)

const (
	FeedbackActionValidated = "validated"
	FeedbackActionRejected  = "rejected"
	FeedbackActionStarred   = "starred"
)

// FeedbackRecord is append-only; the tuner reads it back by recency.
type FeedbackRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ConnectionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"connection_id"`
	Action       string         `gorm:"column:action;not null" json:"action"`
	Context      datatypes.JSON `gorm:"type:jsonb;column:context" json:"context"`
	Note         string         `gorm:"column:note" json:"note,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (FeedbackRecord) TableName() string {
	return "feedback_record"
}
