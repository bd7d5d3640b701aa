package engines

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

func testChunk(n int) *Chunk {
	return &Chunk{
		ID:         uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n)),
		DocumentID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	}
}

func TestSemanticEngineThresholdAndOrder(t *testing.T) {
	source := testChunk(0)
	source.Embedding = []float32{1, 0}

	strong := testChunk(1)
	strong.Embedding = []float32{1, 0}
	medium := testChunk(2)
	medium.Embedding = []float32{0.8, 0.6}
	orthogonal := testChunk(3)
	orthogonal.Embedding = []float32{0, 1}
	noEmbedding := testChunk(4)

	got := semanticEngine{}.Detect(source, []*Chunk{medium, strong, orthogonal, noEmbedding})
	if len(got) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(got))
	}
	if got[0].Target.ID != strong.ID {
		t.Fatalf("first hit: want=%s got=%s", strong.ID, got[0].Target.ID)
	}
	if math.Abs(got[1].Strength-0.8) > 1e-6 {
		t.Fatalf("second strength: want=0.8 got=%v", got[1].Strength)
	}
}

func TestSemanticEngineTopKCap(t *testing.T) {
	source := testChunk(0)
	source.Embedding = []float32{1, 0}
	pool := make([]*Chunk, 0, semanticTopK+5)
	for i := 1; i <= semanticTopK+5; i++ {
		c := testChunk(i)
		c.Embedding = []float32{1, 0}
		pool = append(pool, c)
	}
	got := semanticEngine{}.Detect(source, pool)
	if len(got) != semanticTopK {
		t.Fatalf("hits: want=%d got=%d", semanticTopK, len(got))
	}
}

func TestThematicBridgeRejectsLowThemeOverlap(t *testing.T) {
	source := testChunk(0)
	source.Themes = []string{"entropy", "chaos"}
	cand := testChunk(1)
	cand.Themes = []string{"chaos", "order"}

	// overlap is 1/3, under the floor even with maximal domain distance
	got := thematicEngine{}.Detect(source, []*Chunk{cand})
	if len(got) != 0 {
		t.Fatalf("hits: want=0 got=%d", len(got))
	}
}

func TestThematicBridgeRejectsNearDomains(t *testing.T) {
	source := testChunk(0)
	source.Themes = []string{"entropy", "order"}
	source.StructuralPatterns = []string{"proof", "derivation"}
	cand := testChunk(1)
	cand.Themes = []string{"entropy", "order"}
	cand.StructuralPatterns = []string{"proof", "derivation"}

	got := thematicEngine{}.Detect(source, []*Chunk{cand})
	if len(got) != 0 {
		t.Fatalf("same-structure hits: want=0 got=%d", len(got))
	}
}

func TestThematicBridgeStrengthIsProduct(t *testing.T) {
	source := testChunk(0)
	source.Themes = []string{"entropy", "order"}
	source.StructuralPatterns = []string{"proof"}
	cand := testChunk(1)
	cand.Themes = []string{"entropy", "order"}
	cand.StructuralPatterns = []string{"narrative"}

	got := thematicEngine{}.Detect(source, []*Chunk{cand})
	if len(got) != 1 {
		t.Fatalf("hits: want=1 got=%d", len(got))
	}
	// overlap 1.0 times distance 1.0
	if math.Abs(got[0].Strength-1.0) > 1e-9 {
		t.Fatalf("strength: want=1.0 got=%v", got[0].Strength)
	}
}

func TestStructuralIsomorphismThreshold(t *testing.T) {
	source := testChunk(0)
	source.StructuralPatterns = []string{"claim", "evidence", "conclusion"}

	match := testChunk(1)
	match.StructuralPatterns = []string{"claim", "evidence", "conclusion"}
	near := testChunk(2)
	near.StructuralPatterns = []string{"claim", "evidence", "anecdote"}

	got := structuralEngine{}.Detect(source, []*Chunk{match, near})
	if len(got) != 1 {
		t.Fatalf("hits: want=1 got=%d", len(got))
	}
	if got[0].Target.ID != match.ID {
		t.Fatalf("hit: want=%s got=%s", match.ID, got[0].Target.ID)
	}
	if got[0].Strength != 1.0 {
		t.Fatalf("strength: want=1.0 got=%v", got[0].Strength)
	}
}

func TestContradictionEngineOppositeToneSameConcepts(t *testing.T) {
	source := testChunk(0)
	source.Tone = &EmotionalTone{PrimaryEmotion: "hopeful", Polarity: 0.6, Intensity: 0.5}
	source.Concepts = []Concept{{Text: "free will", Importance: 0.9}, {Text: "determinism", Importance: 0.8}}

	opposite := testChunk(1)
	opposite.Tone = &EmotionalTone{PrimaryEmotion: "melancholic", Polarity: -0.6, Intensity: 0.5}
	opposite.Concepts = source.Concepts

	sameTone := testChunk(2)
	sameTone.Tone = source.Tone
	sameTone.Concepts = source.Concepts

	differentTopic := testChunk(3)
	differentTopic.Tone = opposite.Tone
	differentTopic.Concepts = []Concept{{Text: "thermodynamics", Importance: 0.9}}

	got := contradictionEngine{}.Detect(source, []*Chunk{opposite, sameTone, differentTopic})
	if len(got) != 1 {
		t.Fatalf("hits: want=1 got=%d", len(got))
	}
	if got[0].Target.ID != opposite.ID {
		t.Fatalf("hit: want=%s got=%s", opposite.ID, got[0].Target.ID)
	}
	if got[0].Strength != 1.0 {
		t.Fatalf("strength equals concept similarity: want=1.0 got=%v", got[0].Strength)
	}
}

func TestEmotionalResonanceOverlap(t *testing.T) {
	source := testChunk(0)
	source.Tone = &EmotionalTone{PrimaryEmotion: "reflective", Polarity: 0.0, Intensity: 0.5}

	same := testChunk(1)
	same.Tone = &EmotionalTone{PrimaryEmotion: "reflective", Polarity: 0.05, Intensity: 0.4}
	disjoint := testChunk(2)
	disjoint.Tone = &EmotionalTone{PrimaryEmotion: "critical", Polarity: -0.8, Intensity: 0.9}

	got := emotionalEngine{}.Detect(source, []*Chunk{same, disjoint})
	if len(got) != 1 {
		t.Fatalf("hits: want=1 got=%d", len(got))
	}
	if got[0].Strength != 1.0 {
		t.Fatalf("full tag overlap: want=1.0 got=%v", got[0].Strength)
	}
}

func TestMethodologicalEchoExactAndPartial(t *testing.T) {
	source := testChunk(0)
	source.MethodSignatures = []string{"dialectical analysis"}

	exact := testChunk(1)
	exact.MethodSignatures = []string{"Dialectical Analysis"}
	partial := testChunk(2)
	partial.MethodSignatures = []string{"comparative dialectical analysis of sources"}
	unrelated := testChunk(3)
	unrelated.MethodSignatures = []string{"statistical regression"}

	got := methodologicalEngine{}.Detect(source, []*Chunk{exact, partial, unrelated})
	if len(got) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(got))
	}
	byID := map[uuid.UUID]float64{}
	for _, c := range got {
		byID[c.Target.ID] = c.Strength
	}
	if byID[exact.ID] != 1.0 {
		t.Fatalf("exact strength: want=1.0 got=%v", byID[exact.ID])
	}
	if byID[partial.ID] != 0.5 {
		t.Fatalf("partial strength: want=0.5 got=%v", byID[partial.ID])
	}
}

func TestTemporalRhythmFormula(t *testing.T) {
	source := testChunk(0)
	source.Content = "Therefore the claim holds. Thus we conclude."
	source.Themes = []string{"logic", "method"}

	identical := testChunk(1)
	identical.Content = source.Content
	identical.Themes = source.Themes

	otherPattern := testChunk(2)
	otherPattern.Content = "For example the claim holds. Consider the rest."
	otherPattern.Themes = source.Themes

	flat := testChunk(3)
	flat.Content = "For example."

	got := temporalEngine{}.Detect(source, []*Chunk{identical, otherPattern, flat})
	if len(got) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(got))
	}
	byID := map[uuid.UUID]float64{}
	for _, c := range got {
		byID[c.Target.ID] = c.Strength
	}
	if math.Abs(byID[identical.ID]-1.0) > 1e-9 {
		t.Fatalf("identical rhythm: want=1.0 got=%v", byID[identical.ID])
	}
	// pattern mismatch drops the 0.5 term, density and momentum still match
	if math.Abs(byID[otherPattern.ID]-0.5) > 1e-9 {
		t.Fatalf("pattern mismatch: want=0.5 got=%v", byID[otherPattern.ID])
	}
}

func TestParseChunkMalformedMetadata(t *testing.T) {
	row := &types.Chunk{
		ID:       uuid.New(),
		Concepts: datatypes.JSON([]byte(`{"not":"a list"`)),
	}
	if _, err := ParseChunk(row); err == nil {
		t.Fatalf("expected error for malformed concepts")
	}

	ok := &types.Chunk{ID: uuid.New(), Content: "plain text only"}
	view, err := ParseChunk(ok)
	if err != nil {
		t.Fatalf("ParseChunk minimal row: %v", err)
	}
	if view.Tone != nil || len(view.Embedding) != 0 {
		t.Fatalf("minimal row should have no tone or embedding")
	}
}

func TestRegistryOrderIsStable(t *testing.T) {
	want := []types.EngineType{
		types.EngineSemanticSimilarity,
		types.EngineThematicBridge,
		types.EngineStructuralIsomorphism,
		types.EngineContradiction,
		types.EngineEmotionalResonance,
		types.EngineMethodologicalEcho,
		types.EngineTemporalRhythm,
	}
	got := EngineTypes()
	if len(got) != len(want) {
		t.Fatalf("engine count: want=%d got=%d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("engine order at %d: want=%s got=%s", i, want[i], got[i])
		}
	}
}
