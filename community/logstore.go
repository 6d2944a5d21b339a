package community

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
)

const logFileSuffix = ".json"

type LogStoreSettings struct {
	// chunk size for the backwards tail reader
	TailBufferSize int64
}

func DefaultLogStoreSettings() *LogStoreSettings {
	return &LogStoreSettings{
		TailBufferSize: 8192,
	}
}

// LogRecord is one line of an identity's append-only log. Records are
// immutable once written.
type LogRecord struct {
	Type      string          `json:"type"`
	Msg       json.RawMessage `json:"msg,omitempty"`
	Uid       string          `json:"uid"`
	Timestamp int64           `json:"timestamp"`

	raw []byte
}

// Raw returns the record exactly as stored, for surfaces that forward
// stored records without re-encoding.
func (self *LogRecord) Raw() []byte {
	return self.raw
}

// LogStore is an append-only store of event records, one JSON-lines file
// per identity. Identities are created implicitly on first append and never
// deleted.
type LogStore struct {
	dir string

	// append order equals arrival order per identity
	appendLock *keyedMutex

	settings *LogStoreSettings
}

func NewLogStoreWithDefaults(dir string) *LogStore {
	return NewLogStore(dir, DefaultLogStoreSettings())
}

func NewLogStore(dir string, settings *LogStoreSettings) *LogStore {
	if err := os.MkdirAll(dir, 0755); err != nil {
		glog.Infof("[ls]provision error %s = %s\n", dir, err)
	}
	return &LogStore{
		dir:        dir,
		appendLock: newKeyedMutex(),
		settings:   settings,
	}
}

func (self *LogStore) path(uid string) string {
	return filepath.Join(self.dir, uid+logFileSuffix)
}

// Append stamps `record` with the server clock and the owning identity and
// writes it as one line at the end of the identity's log. An empty uid is
// filed under NullSessionUid. Errors are reported, not retried. A dropped
// line is acceptable loss; nothing else in the system depends on it.
func (self *LogStore) Append(uid string, record map[string]any) error {
	if uid == "" {
		uid = NullSessionUid
	}

	record["uid"] = uid
	record["timestamp"] = time.Now().Unix()

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	unlock := self.appendLock.lock(uid)
	defer unlock()

	f, err := os.OpenFile(self.path(uid), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		metricStorageErrors.Inc()
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		metricStorageErrors.Inc()
		return err
	}
	return nil
}

// Tail returns up to `limit` of the identity's most recent records matching
// `predicate` (nil matches everything), newest first. The file is read
// backwards in chunks, never loaded whole. The result is a pure function of
// the file contents at call time. A missing identity yields an empty tail.
func (self *LogStore) Tail(uid string, predicate func(*LogRecord) bool, limit int) ([]*LogRecord, error) {
	f, err := os.Open(self.path(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return []*LogRecord{}, nil
		}
		return nil, err
	}
	defer f.Close()

	records := []*LogRecord{}
	err = reverseLines(f, self.settings.TailBufferSize, func(line []byte) bool {
		record := &LogRecord{}
		if err := json.Unmarshal(line, record); err != nil {
			// a corrupt line does not poison the tail
			glog.V(2).Infof("[ls]skip bad record %s = %s\n", uid, err)
			return true
		}
		record.raw = append([]byte{}, line...)
		if predicate == nil || predicate(record) {
			records = append(records, record)
		}
		return len(records) < limit
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MostRecentlyActive returns the `n` identities whose log file was modified
// most recently, newest first. This is a deliberate O(identities) directory
// scan; it runs on room join only, never per event. Note the mtime source is
// sensitive to clock skew and out-of-band file touches.
func (self *LogStore) MostRecentlyActive(n int) ([]string, error) {
	entries, err := os.ReadDir(self.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	type activity struct {
		uid     string
		modTime time.Time
	}

	activities := []*activity{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		activities = append(activities, &activity{
			uid:     strings.TrimSuffix(entry.Name(), logFileSuffix),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(activities, func(i int, j int) bool {
		return activities[j].modTime.Before(activities[i].modTime)
	})

	uids := []string{}
	for _, a := range activities[:min(n, len(activities))] {
		uids = append(uids, a.uid)
	}
	return uids, nil
}

// reverseLines visits the non-empty lines of `f` last to first, reading
// `bufferSize` chunks from the end. `visit` returns false to stop early.
func reverseLines(f *os.File, bufferSize int64, visit func(line []byte) bool) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}

	// the head of a line split across chunks, carried to the earlier chunk
	var carry []byte

	for end := info.Size(); 0 < end; {
		start := end - bufferSize
		if start < 0 {
			start = 0
		}

		buffer := make([]byte, end-start)
		if _, err := f.ReadAt(buffer, start); err != nil {
			return err
		}
		if carry != nil {
			buffer = append(buffer, carry...)
		}

		lines := bytes.Split(buffer, []byte{'\n'})

		// unless this chunk starts the file, its first element is the tail
		// of a line continuing into the previous chunk
		first := 0
		if 0 < start {
			first = 1
		}

		for i := len(lines) - 1; first <= i; i -= 1 {
			line := bytes.TrimSpace(lines[i])
			if len(line) == 0 {
				continue
			}
			if !visit(line) {
				return nil
			}
		}

		carry = nil
		if 0 < start {
			carry = append([]byte{}, lines[0]...)
		}
		end = start
	}
	return nil
}
