package engines

import (
	"math"
	"testing"
)

func TestJaccardBothEmpty(t *testing.T) {
	if got := jaccard(nil, nil); got != 1.0 {
		t.Fatalf("jaccard(nil, nil): want=1.0 got=%v", got)
	}
	if got := jaccard([]string{}, []string{"  "}); got != 1.0 {
		t.Fatalf("jaccard with only blank entries: want=1.0 got=%v", got)
	}
}

func TestJaccardOneEmpty(t *testing.T) {
	if got := jaccard([]string{"a"}, nil); got != 0.0 {
		t.Fatalf("jaccard(a, nil): want=0.0 got=%v", got)
	}
	if got := jaccard(nil, []string{"a"}); got != 0.0 {
		t.Fatalf("jaccard(nil, a): want=0.0 got=%v", got)
	}
}

func TestJaccardOverlap(t *testing.T) {
	got := jaccard([]string{"Entropy", "chaos"}, []string{"chaos", "order"})
	want := 1.0 / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("jaccard overlap: want=%v got=%v", want, got)
	}
	if got := jaccard([]string{"a", "b"}, []string{"B", " A "}); got != 1.0 {
		t.Fatalf("jaccard is case and whitespace insensitive: want=1.0 got=%v", got)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("cosine identical: want=1.0 got=%v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("cosine orthogonal: want=0.0 got=%v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != -1 {
		t.Fatalf("cosine length mismatch: want=-1 got=%v", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 0}); got != -1 {
		t.Fatalf("cosine zero vector: want=-1 got=%v", got)
	}
}

func TestSentenceCount(t *testing.T) {
	if got := sentenceCount("no terminator at all"); got != 1 {
		t.Fatalf("sentenceCount floor: want=1 got=%d", got)
	}
	if got := sentenceCount("One. Two! Three?"); got != 3 {
		t.Fatalf("sentenceCount: want=3 got=%d", got)
	}
}

func TestClamp01(t *testing.T) {
	if got := clamp01(1.5); got != 1.0 {
		t.Fatalf("clamp01 high: want=1.0 got=%v", got)
	}
	if got := clamp01(-0.2); got != 0.0 {
		t.Fatalf("clamp01 low: want=0.0 got=%v", got)
	}
	if got := clamp01(0.4); got != 0.4 {
		t.Fatalf("clamp01 passthrough: want=0.4 got=%v", got)
	}
}

func TestIntersectionSortedAndDeduped(t *testing.T) {
	got := intersection([]string{"B", "a", "b", ""}, []string{"A", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("intersection: want=[a b] got=%v", got)
	}
}
