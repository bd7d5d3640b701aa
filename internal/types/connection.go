package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"time"
)

type EngineType = string

const (
	EngineSemanticSimilarity    EngineType = "semantic_similarity"
	EngineThematicBridge        EngineType = "thematic_bridge"
	EngineStructuralIsomorphism EngineType = "structural_isomorphism"
	EngineContradiction         EngineType = "contradiction_detection"
	EngineEmotionalResonance    EngineType = "emotional_resonance"
	EngineMethodologicalEcho    EngineType = "methodological_echo"
	EngineTemporalRhythm        EngineType = "temporal_rhythm"
)

// Connection identity is (source_chunk_id, target_chunk_id, engine_type);
// the same chunk pair keeps one row per engine. Rows are immutable after
// insert except user_confirmed/user_hidden, which only feedback handling touches.
type Connection struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SourceChunkID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_connection_identity,priority:1" json:"source_chunk_id"`
	TargetChunkID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_connection_identity,priority:2" json:"target_chunk_id"`
	SourceDocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"source_document_id"`
	TargetDocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"target_document_id"`
	EngineType       EngineType     `gorm:"column:engine_type;not null;index;uniqueIndex:idx_connection_identity,priority:3" json:"engine_type"`
	Strength         float64        `gorm:"column:strength;not null" json:"strength"`
	AutoDetected     bool           `gorm:"column:auto_detected;not null;default:true" json:"auto_detected"`
	UserConfirmed    bool           `gorm:"column:user_confirmed;not null;default:false" json:"user_confirmed"`
	UserHidden       bool           `gorm:"column:user_hidden;not null;default:false" json:"user_hidden"`
	Metadata         datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Connection) TableName() string {
	return "connection"
}
