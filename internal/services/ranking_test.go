package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

func testConnection(n int, engine types.EngineType, strength float64) *types.Connection {
	docA := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	docB := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")
	return &types.Connection{
		ID:               uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n)),
		SourceChunkID:    uuid.New(),
		TargetChunkID:    uuid.New(),
		SourceDocumentID: docA,
		TargetDocumentID: docB,
		EngineType:       engine,
		Strength:         strength,
		AutoDetected:     true,
	}
}

func TestRankOrdersByWeightedScore(t *testing.T) {
	conns := []*types.Connection{
		testConnection(1, types.EngineSemanticSimilarity, 0.9),
		testConnection(2, types.EngineThematicBridge, 0.8),
	}
	weights := map[types.EngineType]float64{
		types.EngineSemanticSimilarity: 0.5, // 0.45
		types.EngineThematicBridge:     1.0, // 0.80
	}

	got := Rank(RankInput{Connections: conns, Weights: weights, Now: time.Now()})
	if len(got) != 2 {
		t.Fatalf("results: want=2 got=%d", len(got))
	}
	if got[0].EngineType != types.EngineThematicBridge {
		t.Fatalf("first result: want=%s got=%s", types.EngineThematicBridge, got[0].EngineType)
	}
	if got[0].WeightedScore != 0.8 {
		t.Fatalf("first score: want=0.8 got=%v", got[0].WeightedScore)
	}
}

func TestRankScaleInvariance(t *testing.T) {
	conns := []*types.Connection{
		testConnection(1, types.EngineSemanticSimilarity, 0.9),
		testConnection(2, types.EngineThematicBridge, 0.7),
		testConnection(3, types.EngineTemporalRhythm, 0.5),
	}
	base := map[types.EngineType]float64{
		types.EngineSemanticSimilarity: 0.2,
		types.EngineThematicBridge:     0.4,
		types.EngineTemporalRhythm:     0.3,
	}
	scaled := make(map[types.EngineType]float64, len(base))
	for k, v := range base {
		scaled[k] = v * 2
	}

	first := Rank(RankInput{Connections: conns, Weights: base, Now: time.Now()})
	second := Rank(RankInput{Connections: conns, Weights: scaled, Now: time.Now()})
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order changed under uniform scaling at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestRankIsDeterministic(t *testing.T) {
	// identical scores break ties on connection id
	conns := []*types.Connection{
		testConnection(7, types.EngineSemanticSimilarity, 0.5),
		testConnection(3, types.EngineSemanticSimilarity, 0.5),
		testConnection(5, types.EngineSemanticSimilarity, 0.5),
	}
	in := RankInput{Connections: conns, Weights: map[types.EngineType]float64{}, Now: time.Now()}

	first := Rank(in)
	for i := 0; i < 10; i++ {
		again := Rank(in)
		for j := range first {
			if first[j].ID != again[j].ID {
				t.Fatalf("rank order not deterministic at %d", j)
			}
		}
	}
	if first[0].ID.String() >= first[1].ID.String() {
		t.Fatalf("tie-break should order by id ascending")
	}
}

func TestRankFilters(t *testing.T) {
	hidden := testConnection(1, types.EngineSemanticSimilarity, 0.9)
	hidden.UserHidden = true
	weak := testConnection(2, types.EngineSemanticSimilarity, 0.2)
	internal := testConnection(3, types.EngineThematicBridge, 0.8)
	internal.TargetDocumentID = internal.SourceDocumentID
	external := testConnection(4, types.EngineTemporalRhythm, 0.7)

	conns := []*types.Connection{hidden, weak, internal, external}

	got := Rank(RankInput{Connections: conns, Filters: RankFilters{MinStrength: 0.3}, Now: time.Now()})
	if len(got) != 2 {
		t.Fatalf("hidden and weak filtered: want=2 got=%d", len(got))
	}

	got = Rank(RankInput{Connections: conns, Filters: RankFilters{IncludeHidden: true}, Now: time.Now()})
	if len(got) != 4 {
		t.Fatalf("include hidden: want=4 got=%d", len(got))
	}

	got = Rank(RankInput{Connections: conns, Filters: RankFilters{Scope: RankScopeInternal}, Now: time.Now()})
	if len(got) != 1 || got[0].ID != internal.ID {
		t.Fatalf("internal scope: want=[%s] got=%d results", internal.ID, len(got))
	}

	got = Rank(RankInput{
		Connections: conns,
		Filters:     RankFilters{EngineTypes: []types.EngineType{types.EngineTemporalRhythm}},
		Now:         time.Now(),
	})
	if len(got) != 1 || got[0].ID != external.ID {
		t.Fatalf("engine filter: want=[%s] got=%d results", external.ID, len(got))
	}

	got = Rank(RankInput{Connections: conns, Filters: RankFilters{IncludeHidden: true, Limit: 2}, Now: time.Now()})
	if len(got) != 2 {
		t.Fatalf("limit: want=2 got=%d", len(got))
	}
}

func TestRankExpiredContextHasNoEffect(t *testing.T) {
	conn := testConnection(1, types.EngineSemanticSimilarity, 0.5)
	past := time.Now().Add(-time.Minute)
	contexts := []*types.WeightContext{
		{UserID: uuid.New(), Context: StarredBoostContext, EngineType: types.EngineSemanticSimilarity, Multiplier: 2.0, ExpiresAt: &past},
	}

	got := Rank(RankInput{Connections: []*types.Connection{conn}, Contexts: contexts, Now: time.Now()})
	if got[0].WeightedScore != 0.5 {
		t.Fatalf("expired boost applied: want=0.5 got=%v", got[0].WeightedScore)
	}
}
