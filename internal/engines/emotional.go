package engines

import (
	"strings"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

// emotionalEngine matches chunks carrying the same emotional register. Any
// overlap at all counts; there is no minimum threshold by design of the
// signal (the overlap value itself is the strength).
type emotionalEngine struct{}

func (emotionalEngine) Type() types.EngineType { return types.EngineEmotionalResonance }

func (emotionalEngine) Detect(source *Chunk, pool []*Chunk) []Candidate {
	if source == nil || source.Tone == nil {
		return nil
	}
	srcTags := toneTags(source.Tone)
	if len(srcTags) == 0 {
		return nil
	}
	var out []Candidate
	for _, cand := range pool {
		if cand == nil || cand.Tone == nil {
			continue
		}
		candTags := toneTags(cand.Tone)
		if len(candTags) == 0 {
			continue
		}
		overlap := jaccard(srcTags, candTags)
		if overlap <= 0 {
			continue
		}
		out = append(out, Candidate{
			Target:   cand,
			Strength: clamp01(overlap),
			Metadata: map[string]any{
				"engine":       types.EngineEmotionalResonance,
				"tone_overlap": overlap,
				"shared_tags":  intersection(srcTags, candTags),
			},
		})
	}
	return out
}

// toneTags flattens the tone triple into a comparable tag set: the primary
// emotion, a polarity sign bucket, and an intensity bucket.
func toneTags(tone *EmotionalTone) []string {
	var tags []string
	if e := strings.ToLower(strings.TrimSpace(tone.PrimaryEmotion)); e != "" {
		tags = append(tags, e)
	}
	switch {
	case tone.Polarity > 0.1:
		tags = append(tags, "positive")
	case tone.Polarity < -0.1:
		tags = append(tags, "negative")
	default:
		tags = append(tags, "neutral")
	}
	switch {
	case tone.Intensity >= 0.7:
		tags = append(tags, "intense")
	case tone.Intensity <= 0.3:
		tags = append(tags, "subdued")
	default:
		tags = append(tags, "moderate")
	}
	return tags
}
