package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"time"
)

// Chunk rows are written by the ingestion worker; this service only reads them.
type Chunk struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	Content            string         `gorm:"column:content;not null" json:"content"`
	Embedding          datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding"`
	Themes             datatypes.JSON `gorm:"type:jsonb;column:themes" json:"themes"`
	Concepts           datatypes.JSON `gorm:"type:jsonb;column:concepts" json:"concepts"`
	StructuralPatterns datatypes.JSON `gorm:"type:jsonb;column:structural_patterns" json:"structural_patterns"`
	EmotionalTone      datatypes.JSON `gorm:"type:jsonb;column:emotional_tone" json:"emotional_tone"`
	MethodSignatures   datatypes.JSON `gorm:"type:jsonb;column:method_signatures" json:"method_signatures"`
	Domain             string         `gorm:"column:domain" json:"domain"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chunk) TableName() string {
	return "chunk"
}
