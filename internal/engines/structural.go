package engines

import (
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const structuralMinSimilarity = 0.6

// structuralEngine matches chunks built the same way regardless of topic:
// two proofs, two case studies, two dialogues.
type structuralEngine struct{}

func (structuralEngine) Type() types.EngineType { return types.EngineStructuralIsomorphism }

func (structuralEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || len(source.StructuralPatterns) == 0 {
		return nil
	}
	var out []Candidate
	for _, cand := range pool {
		if cand == nil || len(cand.StructuralPatterns) == 0 {
			continue
		}
		sim := jaccard(source.StructuralPatterns, cand.StructuralPatterns)
		if sim < structuralMinSimilarity {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(sim),
			Metadata: map[string]any{
				"engine":          types.EngineStructuralIsomorphism,
				"similarity":      sim,
				"shared_patterns": intersection(source.StructuralPatterns, cand.StructuralPatterns),
			},
		})
	}
	return out
}
