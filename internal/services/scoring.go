package services

import (
	"time"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

// ClampWeight forces an engine weight into the allowed band. Stored rows are
// clamped on read and tuner output is clamped on write, so scoring never sees
// a weight outside [0.1, 1.0].
func ClampWeight(w float64) float64 {
	if w < MinEngineWeight {
		return MinEngineWeight
	}
	if w > MaxEngineWeight {
		return MaxEngineWeight
	}
	return w
}

func weightFor(weights map[types.EngineType]float64, engine types.EngineType) float64 {
	w, ok := weights[engine]
	if !ok {
		return MaxEngineWeight
	}
	return ClampWeight(w)
}

// ContextMultipliers folds the active weight contexts down to one multiplier
// per engine. Stacked contexts for the same engine multiply; expired rows
// contribute nothing.
func ContextMultipliers(contexts []*types.WeightContext, now time.Time) map[types.EngineType]float64 {
	out := make(map[types.EngineType]float64)
	for _, wc := range contexts {
		if wc == nil || !wc.ActiveAt(now) {
			continue
		}
		if _, ok := out[wc.EngineType]; !ok {
			out[wc.EngineType] = 1.0
		}
		out[wc.EngineType] *= wc.Multiplier
	}
	return out
}

func multiplierFor(multipliers map[types.EngineType]float64, engine types.EngineType) float64 {
	m, ok := multipliers[engine]
	if !ok {
		return 1.0
	}
	return m
}

// WeightedScore is the single scoring formula shared by detection-time
// selection and read-time ranking.
func WeightedScore(strength float64, weights map[types.EngineType]float64, multipliers map[types.EngineType]float64, engine types.EngineType) float64 {
	return strength * weightFor(weights, engine) * multiplierFor(multipliers, engine)
}
