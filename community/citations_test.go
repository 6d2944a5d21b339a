package community

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHIndex(t *testing.T) {
	assert.Equal(t, hIndex([]int{}), 0)
	assert.Equal(t, hIndex([]int{3, 3, 3}), 3)
	assert.Equal(t, hIndex([]int{1, 1, 1, 1, 1}), 1)
	assert.Equal(t, hIndex([]int{0}), 0)
	assert.Equal(t, hIndex([]int{100}), 1)
	assert.Equal(t, hIndex([]int{3, 0, 6, 1, 5}), 3)
}

func writeCitations(t *testing.T, dir string, uid string, citations []*CitationRecord) {
	subdir := filepath.Join(dir, uid)
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	for i, citation := range citations {
		data, err := json.Marshal(citation)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(subdir, fmt.Sprintf("%d.json", i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCitationScore(t *testing.T) {
	dir := t.TempDir()
	store := NewCitationStore(dir)

	_, ok := store.Score("missing")
	assert.Equal(t, ok, false)

	writeCitations(t, dir, "u1", []*CitationRecord{
		{Cite: 2, Self: 1},
		{Cite: 3, Self: 0},
		{Cite: 1, Self: 2},
	})

	score, ok := store.Score("u1")
	assert.Equal(t, ok, true)
	assert.Equal(t, score, 3)
}

func TestTopBuilders(t *testing.T) {
	dir := t.TempDir()
	store := NewCitationStore(dir)

	// empty corpus yields an empty leaderboard, no error
	assert.Equal(t, len(store.TopBuilders(7)), 0)

	writeCitations(t, dir, "u1", []*CitationRecord{
		{Cite: 1, Self: 0},
	})
	writeCitations(t, dir, "u2", []*CitationRecord{
		{Cite: 3, Self: 0},
		{Cite: 2, Self: 1},
		{Cite: 4, Self: 0},
	})
	writeCitations(t, dir, "u3", []*CitationRecord{
		{Cite: 2, Self: 0},
		{Cite: 0, Self: 2},
	})

	builders := store.TopBuilders(2)
	assert.Equal(t, len(builders), 2)
	assert.Equal(t, builders[0].Uid, "u2")
	assert.Equal(t, builders[0].Score, 3)
	assert.Equal(t, builders[1].Uid, "u3")
	assert.Equal(t, builders[1].Score, 2)

	// citation annotation is the builder's own top records, highest first,
	// capped at k
	assert.Equal(t, len(builders[0].Citations), 2)
	assert.Equal(t, builders[0].Citations[0].Cite, 4)
	assert.Equal(t, builders[0].Citations[1].Cite, 3)
}
