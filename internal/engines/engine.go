package engines

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

// Chunk is the parsed, validated view engines operate on. The orchestrator
// builds these from raw rows so engines never touch jsonb themselves.
type Chunk struct {
	ID                 uuid.UUID
	DocumentID         uuid.UUID
	Content            string
	Embedding          []float32
	Themes             []string
	Concepts           []Concept
	StructuralPatterns []string
	Tone               *EmotionalTone
	MethodSignatures   []string
	Domain             string
}

type Concept struct {
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
}

type EmotionalTone struct {
	Polarity       float64 `json:"polarity"`
	PrimaryEmotion string  `json:"primaryEmotion"`
	Intensity      float64 `json:"intensity"`
}

// Candidate is a raw engine hit; the orchestrator turns survivors into
// persisted Connection rows after weighting and limiting.
type Candidate struct {
	Target   *Chunk
	Strength float64
	Metadata map[string]any
}

// Engine implementations are pure and stateless: same inputs, same output,
// no I/O. A candidate the engine cannot score is skipped, never an error.
type Engine interface {
	Type() types.EngineType
	Detect(source *Chunk, pool []*Chunk) []Candidate
}

// Registry returns the closed engine set in its canonical order. The order
// doubles as the default tie-break priority during ranking.
func Registry() []Engine {
	return []Engine{
		semanticEngine{},
		thematicEngine{},
		structuralEngine{},
		contradictionEngine{},
		emotionalEngine{},
		methodologicalEngine{},
		temporalEngine{},
	}
}

func EngineTypes() []types.EngineType {
	regs := Registry()
	out := make([]types.EngineType, 0, len(regs))
	for _, e := range regs {
		out = append(out, e.Type())
	}
	return out
}

func DefaultWeights() map[types.EngineType]float64 {
	out := make(map[types.EngineType]float64, 7)
	for _, t := range EngineTypes() {
		out[t] = 1.0
	}
	return out
}

func IsKnownEngineType(t types.EngineType) bool {
	for _, known := range EngineTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// ParseChunk converts a stored row into the engine view. Malformed metadata
// is a chunk-level failure: the caller logs it and skips the chunk.
func ParseChunk(row *types.Chunk) (*Chunk, error) {
	if row == nil || row.ID == uuid.Nil {
		return nil, fmt.Errorf("nil chunk row")
	}
	out := &Chunk{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		Content:    row.Content,
		Domain:     row.Domain,
	}
	if len(row.Embedding) > 0 {
		vec, ok := parseEmbedding(row.Embedding)
		if !ok {
			return nil, fmt.Errorf("chunk %s: malformed embedding", row.ID)
		}
		out.Embedding = vec
	}
	if err := parseStringList(row.Themes, &out.Themes); err != nil {
		return nil, fmt.Errorf("chunk %s: themes: %w", row.ID, err)
	}
	if err := parseStringList(row.StructuralPatterns, &out.StructuralPatterns); err != nil {
		return nil, fmt.Errorf("chunk %s: structural_patterns: %w", row.ID, err)
	}
	if err := parseStringList(row.MethodSignatures, &out.MethodSignatures); err != nil {
		return nil, fmt.Errorf("chunk %s: method_signatures: %w", row.ID, err)
	}
	if len(row.Concepts) > 0 {
		if err := json.Unmarshal(row.Concepts, &out.Concepts); err != nil {
			return nil, fmt.Errorf("chunk %s: concepts: %w", row.ID, err)
		}
	}
	if len(row.EmotionalTone) > 0 {
		var tone EmotionalTone
		if err := json.Unmarshal(row.EmotionalTone, &tone); err != nil {
			return nil, fmt.Errorf("chunk %s: emotional_tone: %w", row.ID, err)
		}
		out.Tone = &tone
	}
	return out, nil
}

func parseEmbedding(raw []byte) ([]float32, bool) {
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		var f64 []float64
		if err2 := json.Unmarshal(raw, &f64); err2 != nil {
			return nil, false
		}
		v = make([]float32, len(f64))
		for i := range f64 {
			v[i] = float32(f64[i])
		}
	}
	if len(v) == 0 {
		return nil, false
	}
	return v, true
}

func parseStringList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
