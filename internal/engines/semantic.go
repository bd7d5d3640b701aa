package engines

import (
	"sort"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const (
	semanticMinStrength = 0.3
	semanticTopK        = 20
)

// semanticEngine scores embedding cosine similarity against the candidate
// pool. Weak connections above the floor are intentionally retained; user
// weighting and filters do the pruning, not the engine.
type semanticEngine struct{}

func (semanticEngine) Type() types.EngineType { return types.EngineSemanticSimilarity }

func (semanticEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || len(source.Embedding) == 0 {
		return nil
	}
	hits := make([]Candidate, 0, semanticTopK)
	for _, cand := range pool {
		if cand == nil || len(cand.Embedding) == 0 {
			continue
		}
		sim := cosine(source.Embedding, cand.Embedding)
		if sim < semanticMinStrength {
			continue
		}
		hits = append(hits, Candidate{
			Target:   cand,
			Strength: clamp01(sim),
			Metadata: map[string]any{
				"engine":     types.EngineSemanticSimilarity,
				"similarity": sim,
			},
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Strength != hits[j].Strength {
			return hits[i].Strength > hits[j].Strength
		}
		return hits[i].Target.ID.String() < hits[j].Target.ID.String()
	})
	if len(hits) > semanticTopK {
		hits = hits[:semanticTopK]
	}
	return hits
}
