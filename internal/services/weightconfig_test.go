package services

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rhizomelab/rhizome-backend/internal/engines"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

func TestNormalizeEngineOrder(t *testing.T) {
	order := normalizeEngineOrder([]types.EngineType{
		types.EngineTemporalRhythm,
		"bogus_engine",
		types.EngineTemporalRhythm,
		types.EngineContradiction,
	})
	if len(order) != len(engines.EngineTypes()) {
		t.Fatalf("order length: want=%d got=%d", len(engines.EngineTypes()), len(order))
	}
	if order[0] != types.EngineTemporalRhythm || order[1] != types.EngineContradiction {
		t.Fatalf("caller priority lost: got=%v", order[:2])
	}
	seen := map[types.EngineType]bool{}
	for _, e := range order {
		if seen[e] {
			t.Fatalf("duplicate engine in order: %s", e)
		}
		seen[e] = true
	}
}

func TestResolveWeightConfigRow(t *testing.T) {
	row := &types.WeightConfig{
		UserID:  uuid.New(),
		Weights: datatypes.JSON([]byte(`{"semantic_similarity":5.0,"thematic_bridge":0.01,"bogus_engine":0.5,"temporal_rhythm":0.4}`)),
	}

	cfg := resolveWeightConfigRow(row)
	if cfg.Weights[types.EngineSemanticSimilarity] != MaxEngineWeight {
		t.Fatalf("stored weight above band: want=%v got=%v", MaxEngineWeight, cfg.Weights[types.EngineSemanticSimilarity])
	}
	if cfg.Weights[types.EngineThematicBridge] != MinEngineWeight {
		t.Fatalf("stored weight below band: want=%v got=%v", MinEngineWeight, cfg.Weights[types.EngineThematicBridge])
	}
	if cfg.Weights[types.EngineTemporalRhythm] != 0.4 {
		t.Fatalf("in-band weight: want=0.4 got=%v", cfg.Weights[types.EngineTemporalRhythm])
	}
	if _, ok := cfg.Weights["bogus_engine"]; ok {
		t.Fatalf("unknown engine must be dropped")
	}
	// engines absent from the row fall back to the default
	if cfg.Weights[types.EngineContradiction] != 1.0 {
		t.Fatalf("missing engine default: want=1.0 got=%v", cfg.Weights[types.EngineContradiction])
	}
	if cfg.MaxConnectionsPerChunk != DefaultMaxConnectionsPerChunk {
		t.Fatalf("default per-chunk cap: want=%d got=%d", DefaultMaxConnectionsPerChunk, cfg.MaxConnectionsPerChunk)
	}
}

func TestDefaultWeightConfig(t *testing.T) {
	cfg := DefaultWeightConfig(uuid.New())
	if len(cfg.Weights) != len(engines.EngineTypes()) {
		t.Fatalf("default weights: want=%d entries got=%d", len(engines.EngineTypes()), len(cfg.Weights))
	}
	for engine, w := range cfg.Weights {
		if w != 1.0 {
			t.Fatalf("default weight for %s: want=1.0 got=%v", engine, w)
		}
	}
	if cfg.MaxConnectionsPerEngine != DefaultMaxConnectionsPerEngine {
		t.Fatalf("default per-engine cap: want=%d got=%d", DefaultMaxConnectionsPerEngine, cfg.MaxConnectionsPerEngine)
	}
}
