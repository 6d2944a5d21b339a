package community

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CitationRecord is one entry of an identity's citation corpus. The corpus
// is produced out of band; this store only reads it.
type CitationRecord struct {
	Cite int `json:"cite"`
	Self int `json:"self"`
}

func (self *CitationRecord) total() int {
	return self.Cite + self.Self
}

type TopBuilder struct {
	Uid       string            `json:"uid"`
	Score     int               `json:"score"`
	Citations []*CitationRecord `json:"citations"`
}

// CitationStore aggregates a per-identity citation corpus
// (`<dir>/<uid>/*.json`) into an h-index influence score and a bounded
// leaderboard.
type CitationStore struct {
	dir string
}

func NewCitationStore(dir string) *CitationStore {
	return &CitationStore{
		dir: dir,
	}
}

// Score computes the identity's h-index over cite+self of every corpus
// record. The second return is false when the identity has no corpus.
func (self *CitationStore) Score(uid string) (int, bool) {
	citations, ok := self.readCitations(uid)
	if !ok {
		return 0, false
	}
	return hIndexOf(citations), true
}

// TopBuilders scans the whole corpus and returns the `k` identities with
// the highest h-index, best first, each annotated with its own `k`
// highest-cited records. Stable for a fixed corpus snapshot: ties keep
// directory scan order. Deliberate O(corpus) scan, run on room join only.
func (self *CitationStore) TopBuilders(k int) []*TopBuilder {
	builders := []*TopBuilder{}

	entries, err := os.ReadDir(self.dir)
	if err != nil {
		return builders
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uid := entry.Name()

		citations, ok := self.readCitations(uid)
		if !ok {
			continue
		}

		top := append([]*CitationRecord{}, citations...)
		sort.SliceStable(top, func(i int, j int) bool {
			return top[j].total() < top[i].total()
		})
		if k < len(top) {
			top = top[:k]
		}

		builders = append(builders, &TopBuilder{
			Uid:       uid,
			Score:     hIndexOf(citations),
			Citations: top,
		})
	}

	sort.SliceStable(builders, func(i int, j int) bool {
		return builders[j].Score < builders[i].Score
	})
	if k < len(builders) {
		builders = builders[:k]
	}
	return builders
}

func (self *CitationStore) readCitations(uid string) ([]*CitationRecord, bool) {
	subdir := filepath.Join(self.dir, uid)
	entries, err := os.ReadDir(subdir)
	if err != nil {
		return nil, false
	}

	citations := []*CitationRecord{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(subdir, entry.Name()))
		if err != nil {
			continue
		}
		citation := &CitationRecord{}
		if err := json.Unmarshal(data, citation); err != nil {
			continue
		}
		citations = append(citations, citation)
	}
	return citations, true
}

func hIndexOf(citations []*CitationRecord) int {
	values := make([]int, len(citations))
	for i, citation := range citations {
		values[i] = citation.total()
	}
	return hIndex(values)
}

// hIndex returns the largest h such that at least h values are >= h.
// Counting buckets, O(n): every value >= n lands in the top bucket.
func hIndex(values []int) int {
	n := len(values)
	count := make([]int, n+1)
	for _, value := range values {
		if n <= value {
			count[n] += 1
		} else {
			count[value] += 1
		}
	}

	h := 0
	for i := n; 0 <= i; i -= 1 {
		h += count[i]
		if i <= h {
			return i
		}
	}
	return 0
}
