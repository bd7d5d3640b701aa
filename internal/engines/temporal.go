package engines

import (
	"math"
	"strings"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const temporalMinSimilarity = 0.3

// Lexical cues for narrative pattern classification, checked in order; the
// pattern with the most cue hits wins, first listed wins ties.
var narrativeCues = []struct {
	pattern string
	cues    []string
}{
	{"argument", []string{"therefore", "thus", "because", "hence", "it follows", "consequently"}},
	{"example", []string{"for example", "for instance", "consider", "such as", "imagine"}},
	{"reveal", []string{"however", "but ", "yet ", "in fact", "turns out", "actually"}},
	{"buildup", []string{"then", "next", "until", "gradually", "eventually", "slowly"}},
	{"reflection", []string{"perhaps", "maybe", "wonder", "remember", "looking back", "in retrospect"}},
}

// temporalEngine matches chunks that move the same way: same narrative
// pattern, similar theme density, similar momentum.
type temporalEngine struct{}

func (temporalEngine) Type() types.EngineType { return types.EngineTemporalRhythm }

func (temporalEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || strings.TrimSpace(source.Content) == "" {
		return nil
	}
	srcRhythm := analyzeRhythm(source)
	var out []Candidate
	for _, cand := range pool {
		if cand == nil || strings.TrimSpace(cand.Content) == "" {
			continue
		}
		candRhythm := analyzeRhythm(cand)
		sim := rhythmSimilarity(srcRhythm, candRhythm)
		if sim < temporalMinSimilarity {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(sim),
			Metadata: map[string]any{
				"engine":         types.EngineTemporalRhythm,
				"similarity":     sim,
				"source_pattern": srcRhythm.pattern,
				"target_pattern": candRhythm.pattern,
				"density_delta":  math.Abs(srcRhythm.density - candRhythm.density),
			},
		})
	}
	return out
}

type rhythm struct {
	pattern  string
	density  float64
	momentum float64
}

func analyzeRhythm(c *Chunk) rhythm {
	content := strings.ToLower(c.Content)
	best := "reflection"
	bestHits := 0
	for _, nc := range narrativeCues {
		hits := 0
		for _, cue := range nc.cues {
			hits += strings.Count(content, cue)
		}
		if hits > bestHits {
			best = nc.pattern
			bestHits = hits
		}
	}
	sentences := sentenceCount(c.Content)
	density := float64(len(c.Themes)) / float64(sentences)
	return rhythm{
		pattern:  best,
		density:  density,
		momentum: density * float64(sentences),
	}
}

func rhythmSimilarity(a, b rhythm) float64 {
	patternMatch := 0.0
	if a.pattern == b.pattern {
		patternMatch = 1.0
	}
	densityTerm := 1.0 - math.Abs(a.density-b.density)
	if densityTerm < 0 {
		densityTerm = 0
	}
	momentumTerm := 1.0 - math.Abs(a.momentum-b.momentum)/10.0
	if momentumTerm < 0 {
		momentumTerm = 0
	}
	sim := 0.5*patternMatch + 0.3*densityTerm + 0.2*momentumTerm
	if sim < 0 {
		sim = 0
	}
	return sim
}
