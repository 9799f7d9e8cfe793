package store

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(h int) *time.Time {
	t := time.Date(2025, 1, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func TestMatchProject(t *testing.T) {
	assert.Equal(t, ProjectMatchExact, MatchProject("work/API", "work/api"))
	assert.Equal(t, ProjectMatchSubstring, MatchProject("work/api-gateway", "API"))
	assert.Equal(t, ProjectMatchNone, MatchProject("billing", "api"))
	assert.Equal(t, ProjectMatchNone, MatchProject("api", ""))
}

func TestCompareHits_Keys(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	near := SearchHit{MessageID: id2, Distance: 0.1, Timestamp: ts(1)}
	far := SearchHit{MessageID: id1, Distance: 0.2, Timestamp: ts(9)}
	assert.Negative(t, CompareHits(&near, &far, ""))

	newer := SearchHit{MessageID: id2, Distance: 0.1, Timestamp: ts(5)}
	older := SearchHit{MessageID: id1, Distance: 0.1, Timestamp: ts(4)}
	assert.Negative(t, CompareHits(&newer, &older, ""))

	undated := SearchHit{MessageID: id1, Distance: 0.1}
	assert.Positive(t, CompareHits(&undated, &older, ""), "missing timestamp sorts last")

	exact := SearchHit{MessageID: id2, Distance: 0.1, Timestamp: ts(4), ProjectName: "api"}
	partial := SearchHit{MessageID: id1, Distance: 0.1, Timestamp: ts(4), ProjectName: "api-v2"}
	assert.Negative(t, CompareHits(&exact, &partial, "api"))

	a := SearchHit{MessageID: id1, Distance: 0.1, Timestamp: ts(4)}
	b := SearchHit{MessageID: id2, Distance: 0.1, Timestamp: ts(4)}
	assert.Negative(t, CompareHits(&a, &b, ""))
	assert.Zero(t, CompareHits(&a, &a, ""))
}

func TestSortHits_IsATotalOrder(t *testing.T) {
	var hits []SearchHit
	for i := 0; i < 60; i++ {
		h := SearchHit{
			MessageID:   GenNewID(),
			Distance:    float64(i%4) / 10,
			ProjectName: []string{"api", "api-gateway", "web"}[i%3],
		}
		if i%5 != 0 {
			h.Timestamp = ts(i % 7)
		}
		hits = append(hits, h)
	}

	want := append([]SearchHit(nil), hits...)
	SortHits(want, "api")

	for round := 0; round < 5; round++ {
		shuffled := append([]SearchHit(nil), hits...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		SortHits(shuffled, "api")
		require.Equal(t, want, shuffled)
	}

	for i := 1; i < len(want); i++ {
		assert.Negative(t, CompareHits(&want[i-1], &want[i], "api"))
		assert.LessOrEqual(t, want[i-1].Distance, want[i].Distance)
	}
}
