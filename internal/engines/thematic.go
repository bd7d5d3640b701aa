package engines

import (
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const (
	thematicMinThemeOverlap   = 0.5
	thematicMinDomainDistance = 0.6
)

// thematicEngine looks for the same themes expressed through different
// structural vocabularies: shared themes with distant structure means a
// cross-domain bridge, the most interesting kind of connection.
type thematicEngine struct{}

func (thematicEngine) Type() types.EngineType { return types.EngineThematicBridge }

func (thematicEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || len(source.Themes) == 0 {
		return nil
	}
	var out []Candidate
	for _, cand := range pool {
		if cand == nil || len(cand.Themes) == 0 {
			continue
		}
		themeOverlap := jaccard(source.Themes, cand.Themes)
		if themeOverlap < thematicMinThemeOverlap {
			continue
		}
		domainDistance := 1.0 - jaccard(source.StructuralPatterns, cand.StructuralPatterns)
		if domainDistance < thematicMinDomainDistance {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(themeOverlap * domainDistance),
			Metadata: map[string]any{
				"engine":          types.EngineThematicBridge,
				"theme_overlap":   themeOverlap,
				"domain_distance": domainDistance,
				"shared_themes":   intersection(source.Themes, cand.Themes),
				"source_domain":   source.Domain,
				"target_domain":   cand.Domain,
			},
		})
	}
	return out
}
