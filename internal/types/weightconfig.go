package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"time"
)

// WeightConfig is the per-user multiplier vector over engines plus storage
// limits. Mutated only by explicit user edits or the weight tuner.
type WeightConfig struct {
	UserID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	Weights                 datatypes.JSON `gorm:"type:jsonb;column:weights;not null" json:"weights"`
	EngineOrder             datatypes.JSON `gorm:"type:jsonb;column:engine_order;not null" json:"engine_order"`
	MaxConnectionsPerChunk  int            `gorm:"column:max_connections_per_chunk;not null;default:50" json:"max_connections_per_chunk"`
	MaxConnectionsPerEngine int            `gorm:"column:max_connections_per_engine;not null;default:10" json:"max_connections_per_engine"`
	CreatedAt               time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (WeightConfig) TableName() string {
	return "weight_config"
}
