package types

import (
	"github.com/google/uuid"
	"time"
)

// WeightContext is a temporary multiplier applied on top of the user's
// engine weight during ranking (e.g. the 24h starred boost). Expired rows
// score as multiplier 1.0 and are garbage-collected lazily.
type WeightContext struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_weight_context_scope,priority:1" json:"user_id"`
	Context    string     `gorm:"column:context;not null;uniqueIndex:idx_weight_context_scope,priority:2" json:"context"`
	EngineType EngineType `gorm:"column:engine_type;not null;uniqueIndex:idx_weight_context_scope,priority:3" json:"engine_type"`
	Multiplier float64    `gorm:"column:multiplier;not null;default:1" json:"multiplier"`
	ExpiresAt  *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (WeightContext) TableName() string {
	return "weight_context"
}

func (wc *WeightContext) ActiveAt(t time.Time) bool {
	if wc == nil {
		return false
	}
	return wc.ExpiresAt == nil || wc.ExpiresAt.After(t)
}
