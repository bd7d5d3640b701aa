package engines

import (
	"math"
	"sort"
	"strings"
)

// jaccard over normalized string sets. Two empty sets are identical (1.0);
// exactly one empty set shares nothing (0.0).
func jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		k := strings.ToLower(strings.TrimSpace(it))
		if k == "" {
			continue
		}
		set[k] = true
	}
	return set
}

func intersection(a, b []string) []string {
	setB := toSet(b)
	seen := make(map[string]bool)
	out := []string{}
	for _, it := range a {
		k := strings.ToLower(strings.TrimSpace(it))
		if k == "" || seen[k] || !setB[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sentenceCount(content string) int {
	n := 0
	for _, r := range content {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func conceptTexts(concepts []Concept) []string {
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		out = append(out, c.Text)
	}
	return out
}
