package engines

import (
	"strings"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const contradictionMinConceptSimilarity = 0.7

// oppositeTones maps each primary emotion from the extraction vocabulary to
// the tones that read as its opposing stance. Static data, not behavior.
var oppositeTones = map[string][]string{
	"affirming":   {"critical", "skeptical"},
	"critical":    {"affirming", "triumphant"},
	"skeptical":   {"affirming", "hopeful"},
	"hopeful":     {"melancholic", "ominous", "skeptical"},
	"melancholic": {"hopeful", "triumphant"},
	"triumphant":  {"melancholic", "ominous", "critical"},
	"ominous":     {"hopeful", "triumphant"},
	"tense":       {"reflective"},
	"reflective":  {"tense"},
	"concerned":   {"exploratory"},
	"exploratory": {"concerned"},
}

// contradictionEngine finds same-topic, opposite-stance pairs: high concept
// overlap means the chunks argue about the same thing, and an opposite tone
// means they land on different sides. Higher overlap is a stronger
// contradiction, not a weaker one.
type contradictionEngine struct{}

func (contradictionEngine) Type() types.EngineType { return types.EngineContradiction }

func (contradictionEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || source.Tone == nil || len(source.Concepts) == 0 {
		return nil
	}
	srcTone := strings.ToLower(strings.TrimSpace(source.Tone.PrimaryEmotion))
	opposites := oppositeTones[srcTone]
	if len(opposites) == 0 {
		return nil
	}
	srcConcepts := conceptTexts(source.Concepts)

	var out []Candidate
	for _, cand := range pool {
		if cand == nil || cand.Tone == nil || len(cand.Concepts) == 0 {
			continue
		}
		candTone := strings.ToLower(strings.TrimSpace(cand.Tone.PrimaryEmotion))
		if !containsTone(opposites, candTone) {
			continue
		}
		conceptSim := jaccard(srcConcepts, conceptTexts(cand.Concepts))
		if conceptSim < contradictionMinConceptSimilarity {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(conceptSim),
			Metadata: map[string]any{
				"engine":             types.EngineContradiction,
				"concept_similarity": conceptSim,
				"shared_concepts":    intersection(srcConcepts, conceptTexts(cand.Concepts)),
				"source_tone":        srcTone,
				"target_tone":        candTone,
			},
		})
	}
	return out
}

func containsTone(tones []string, tone string) bool {
	for _, t := range tones {
		if t == tone {
			return true
		}
	}
	return false
}
