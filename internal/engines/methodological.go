package engines

import (
	"strings"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const methodologicalMinSimilarity = 0.3

// methodologicalEngine compares method signatures with a custom metric
// rather than pure Jaccard: exact matches count 1.0, substring partials
// count 0.5, normalized by the larger signature set.
type methodologicalEngine struct{}

func (methodologicalEngine) Type() types.EngineType { return types.EngineMethodologicalEcho }

func (methodologicalEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || len(source.MethodSignatures) == 0 {
		return nil
	}
	var out []Candidate
	for _, cand := range pool {
		if cand == nil || len(cand.MethodSignatures) == 0 {
			continue
		}
		sim, exact, partial := methodSimilarity(source.MethodSignatures, cand.MethodSignatures)
		if sim < methodologicalMinSimilarity {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(sim),
			Metadata: map[string]any{
				"engine":          types.EngineMethodologicalEcho,
				"similarity":      sim,
				"exact_matches":   exact,
				"partial_matches": partial,
			},
		})
	}
	return out
}

func methodSimilarity(a, b []string) (float64, []string, []string) {
	normA := normalizeSignatures(a)
	normB := normalizeSignatures(b)
	if len(normA) == 0 || len(normB) == 0 {
		return 0, nil, nil
	}
	setB := make(map[string]bool, len(normB))
	for _, s := range normB {
		setB[s] = true
	}
	var exact, partial []string
	score := 0.0
	for _, s := range normA {
		if setB[s] {
			score += 1.0
			exact = append(exact, s)
			continue
		}
		for _, t := range normB {
			if strings.Contains(t, s) || strings.Contains(s, t) {
				score += 0.5
				partial = append(partial, s)
				break
			}
		}
	}
	denom := len(normA)
	if len(normB) > denom {
		denom = len(normB)
	}
	return score / float64(denom), exact, partial
}

func normalizeSignatures(sigs []string) []string {
	out := make([]string, 0, len(sigs))
	seen := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
