package community

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSubmitAllocatesSequentialIds(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	for want := 1; want <= 3; want += 1 {
		structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
		assert.Equal(t, err, nil)
		assert.Equal(t, structId, want)
	}

	// ids are identity scoped
	structId, err := store.Submit("u2", json.RawMessage(`{"y":2}`), "")
	assert.Equal(t, err, nil)
	assert.Equal(t, structId, 1)
}

func TestConcurrentSubmitsNeverCollide(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	n := 32
	structIds := make(chan int, n)

	wg := sync.WaitGroup{}
	for i := 0; i < n; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
			assert.Equal(t, err, nil)
			structIds <- structId
		}()
	}
	wg.Wait()
	close(structIds)

	seen := []int{}
	for structId := range structIds {
		seen = append(seen, structId)
	}
	slices.Sort(seen)
	for i, structId := range seen {
		assert.Equal(t, structId, i+1)
	}
}

func TestUpvoteIsIdempotent(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
	assert.Equal(t, err, nil)
	assert.Equal(t, structId, 1)

	applied, info, err := store.Upvote("u1", structId, "u2")
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)
	assert.Equal(t, info.Upvoters, []string{"u2"})

	// a repeat vote by the same voter changes nothing
	applied, info, err = store.Upvote("u1", structId, "u2")
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, false)
	assert.Equal(t, info.Upvoters, []string{"u2"})
}

func TestConcurrentUpvotesAllLand(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
	assert.Equal(t, err, nil)

	voters := []string{}
	for i := 0; i < 16; i += 1 {
		voters = append(voters, string(rune('a'+i)))
	}

	wg := sync.WaitGroup{}
	for _, voter := range voters {
		voter := voter
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, _, err := store.Upvote("u1", structId, voter)
			assert.Equal(t, err, nil)
			assert.Equal(t, applied, true)
		}()
	}
	wg.Wait()

	info, err := store.Get("u1", structId)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(info.Upvoters), len(voters))
	for _, voter := range voters {
		assert.Equal(t, slices.Contains(info.Upvoters, voter), true)
	}
}

func TestUpvoteMissingStructIsNoop(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	applied, info, err := store.Upvote("u1", 99, "u2")
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, false)
	assert.Equal(t, info, nil)
}

func TestSoftDeleteHidesFromListAll(t *testing.T) {
	dir := t.TempDir()
	store := NewStructStoreWithDefaults(dir)

	first, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
	assert.Equal(t, err, nil)
	second, err := store.Submit("u1", json.RawMessage(`{"x":2}`), "")
	assert.Equal(t, err, nil)

	assert.Equal(t, store.SoftDelete("u1", first), nil)
	// deleting again is a no-op
	assert.Equal(t, store.SoftDelete("u1", first), nil)

	listed := []int{}
	err = store.ListAll(100, func(info *StructInfo) {
		listed = append(listed, info.Id)
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, listed, []int{second})

	// the unit still exists in the deleted area, recoverable out of band
	deletedEntries, err := os.ReadDir(filepath.Join(dir, "u1", deletedDirName))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(deletedEntries), 1)

	assert.Equal(t, store.Ids("u1"), []string{"2.json"})
}

func TestDeletedUnitsSurviveIdReuse(t *testing.T) {
	dir := t.TempDir()
	store := NewStructStoreWithDefaults(dir)

	structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
	assert.Equal(t, err, nil)
	assert.Equal(t, store.SoftDelete("u1", structId), nil)

	// the freed id is reallocated
	structId, err = store.Submit("u1", json.RawMessage(`{"x":2}`), "")
	assert.Equal(t, err, nil)
	assert.Equal(t, structId, 1)
	assert.Equal(t, store.SoftDelete("u1", structId), nil)

	// both generations survive in the deleted area
	deletedEntries, err := os.ReadDir(filepath.Join(dir, "u1", deletedDirName))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(deletedEntries), 2)
}

func TestListAllCapsPerIdentity(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	for i := 0; i < 5; i += 1 {
		_, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "")
		assert.Equal(t, err, nil)
	}
	_, err := store.Submit("u2", json.RawMessage(`{"y":1}`), "")
	assert.Equal(t, err, nil)

	counts := map[string]int{}
	err = store.ListAll(3, func(info *StructInfo) {
		counts[info.Uid] += 1
		assert.Equal(t, 0 < info.Score, true)
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, counts["u1"], 3)
	assert.Equal(t, counts["u2"], 1)
}

func TestSubmitNormalizesPayloadToOneLine(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	// newlines between tokens are valid JSON but would split the unit's
	// payload line, misfiling the tail as the image
	structId, err := store.Submit("u1", json.RawMessage("{\"x\":\n1}"), "img")
	assert.Equal(t, err, nil)

	info, err := store.Get("u1", structId)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(info.Payload), `{"x":1}`)
	assert.Equal(t, info.Image, "img")

	var payload map[string]int
	assert.Equal(t, json.Unmarshal(info.Payload, &payload), nil)
	assert.Equal(t, payload["x"], 1)
}

func TestSubmitRejectsMultilineImage(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	_, err := store.Submit("u1", json.RawMessage(`{"x":1}`), "a\nb")
	assert.NotEqual(t, err, nil)
}

func TestImageRoundTrip(t *testing.T) {
	store := NewStructStoreWithDefaults(t.TempDir())

	image := "data:image/png;base64,iVBORw0KGgo="
	structId, err := store.Submit("u1", json.RawMessage(`{"x":1}`), image)
	assert.Equal(t, err, nil)

	info, err := store.Get("u1", structId)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.Image, image)
	assert.Equal(t, string(info.Payload), `{"x":1}`)
}
