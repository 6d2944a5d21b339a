package community

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

const structFileSuffix = ".json"
const deletedDirName = "deleted"

type StructStoreSettings struct {
	ScoreSettings *ScoreSettings
}

func DefaultStructStoreSettings() *StructStoreSettings {
	return &StructStoreSettings{
		ScoreSettings: DefaultScoreSettings(),
	}
}

// StructInfo is one submitted artifact annotated with its current score.
type StructInfo struct {
	Uid         string
	Id          int
	Upvoters    []string
	SubmittedAt int64
	Payload     json.RawMessage
	// optional attached blob (data-url string), empty when absent
	Image string
	Score float64
}

// StructStore keeps one directory per identity, one storage unit per struct.
// A unit is a line-structured file:
//
//	line 1: JSON array of upvoter uids
//	line 2: unix timestamp of submission
//	line 3: the payload JSON
//	line 4: optional attached blob
//
// Soft-deleted units move into a `deleted/` subdirectory under the same
// identity and drop out of every read path.
type StructStore struct {
	dir string

	// serializes id allocation per identity
	submitLock *keyedMutex
	// serializes the vote read-modify-write per storage unit
	voteLock *keyedMutex

	settings *StructStoreSettings
}

func NewStructStoreWithDefaults(dir string) *StructStore {
	return NewStructStore(dir, DefaultStructStoreSettings())
}

func NewStructStore(dir string, settings *StructStoreSettings) *StructStore {
	if err := os.MkdirAll(dir, 0755); err != nil {
		glog.Infof("[ss]provision error %s = %s\n", dir, err)
	}
	return &StructStore{
		dir:        dir,
		submitLock: newKeyedMutex(),
		voteLock:   newKeyedMutex(),
		settings:   settings,
	}
}

func (self *StructStore) userDir(uid string) string {
	return filepath.Join(self.dir, uid)
}

func (self *StructStore) unitPath(uid string, structId int) string {
	return filepath.Join(self.dir, uid, fmt.Sprintf("%d%s", structId, structFileSuffix))
}

func (self *StructStore) voteKey(uid string, structId int) string {
	return fmt.Sprintf("%s/%d", uid, structId)
}

// Submit stores a new struct for `uid` and returns its id. Ids are
// identity-scoped and monotonic: max existing active id + 1, or 1 for a
// first submission. Allocation and write hold the identity's submit lock so
// concurrent submits by the same identity never collide.
func (self *StructStore) Submit(uid string, payload json.RawMessage, image string) (int, error) {
	unlock := self.submitLock.lock(uid)
	defer unlock()

	userDir := self.userDir(uid)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		metricStorageErrors.Inc()
		return 0, err
	}

	maxId := 0
	entries, err := os.ReadDir(userDir)
	if err != nil {
		metricStorageErrors.Inc()
		return 0, err
	}
	for _, entry := range entries {
		if structId, ok := unitId(entry); ok && maxId < structId {
			maxId = structId
		}
	}
	structId := maxId + 1

	unit := &structUnit{
		upvoters:    []string{},
		submittedAt: time.Now().Unix(),
		payload:     payload,
		image:       image,
	}
	if err := self.writeUnit(self.unitPath(uid, structId), unit); err != nil {
		metricStorageErrors.Inc()
		return 0, err
	}

	glog.V(2).Infof("[ss]submit %s/%d\n", uid, structId)
	return structId, nil
}

// Upvote appends `voterUid` to the struct's upvoter set. It is idempotent:
// a repeat voter is reported not-applied with no state change. The whole
// read-modify-write holds the unit's vote lock, so concurrent votes on the
// same struct serialize and neither is lost. A missing struct is a silent
// no-op. On success the returned info carries the updated upvoter set and
// score.
func (self *StructStore) Upvote(uid string, structId int, voterUid string) (bool, *StructInfo, error) {
	unlock := self.voteLock.lock(self.voteKey(uid, structId))
	defer unlock()

	path := self.unitPath(uid, structId)
	unit, err := self.readUnit(path)
	if err != nil {
		if os.IsNotExist(err) {
			glog.V(2).Infof("[ss]upvote missing %s/%d\n", uid, structId)
			return false, nil, nil
		}
		return false, nil, err
	}

	for _, upvoter := range unit.upvoters {
		if upvoter == voterUid {
			return false, self.info(uid, structId, unit), nil
		}
	}

	unit.upvoters = append(unit.upvoters, voterUid)
	if err := self.writeUnit(path, unit); err != nil {
		metricStorageErrors.Inc()
		return false, nil, err
	}

	glog.V(2).Infof("[ss]upvote %s/%d by %s\n", uid, structId, voterUid)
	return true, self.info(uid, structId, unit), nil
}

// Get reads one active struct.
func (self *StructStore) Get(uid string, structId int) (*StructInfo, error) {
	unit, err := self.readUnit(self.unitPath(uid, structId))
	if err != nil {
		return nil, err
	}
	return self.info(uid, structId, unit), nil
}

// ListAll emits every active struct across all identities, at most
// `maxPerUser` per identity, each annotated with its current score.
// Malformed units are skipped. This is a deliberate full directory scan; it
// runs on room join only.
func (self *StructStore) ListAll(maxPerUser int, emit func(*StructInfo)) error {
	entries, err := os.ReadDir(self.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uid := entry.Name()

		unitEntries, err := os.ReadDir(self.userDir(uid))
		if err != nil {
			continue
		}

		structIds := []int{}
		for _, unitEntry := range unitEntries {
			if structId, ok := unitId(unitEntry); ok {
				structIds = append(structIds, structId)
			}
		}
		sort.Ints(structIds)

		count := 0
		for _, structId := range structIds {
			if maxPerUser <= count {
				break
			}
			unit, err := self.readUnit(self.unitPath(uid, structId))
			if err != nil {
				glog.V(2).Infof("[ss]skip bad unit %s/%d = %s\n", uid, structId, err)
				continue
			}
			emit(self.info(uid, structId, unit))
			count += 1
		}
	}
	return nil
}

// SoftDelete moves the struct's storage unit into the identity's `deleted/`
// area. Terminal: there is no path back through the normal API. No-op when
// the struct does not exist.
func (self *StructStore) SoftDelete(uid string, structId int) error {
	unlock := self.voteLock.lock(self.voteKey(uid, structId))
	defer unlock()

	path := self.unitPath(uid, structId)
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	deletedDir := filepath.Join(self.userDir(uid), deletedDirName)
	if err := os.MkdirAll(deletedDir, 0755); err != nil {
		metricStorageErrors.Inc()
		return err
	}
	// ids can be reallocated after deletion, so the deleted name carries the
	// deletion time and never overwrites an earlier generation
	deletedName := fmt.Sprintf("%d.%d%s", structId, time.Now().UnixNano(), structFileSuffix)
	if err := os.Rename(path, filepath.Join(deletedDir, deletedName)); err != nil {
		metricStorageErrors.Inc()
		return err
	}

	glog.V(2).Infof("[ss]delete %s/%d\n", uid, structId)
	return nil
}

// Ids lists the identity's active struct unit names in ascending id order.
func (self *StructStore) Ids(uid string) []string {
	entries, err := os.ReadDir(self.userDir(uid))
	if err != nil {
		return []string{}
	}

	structIds := []int{}
	for _, entry := range entries {
		if structId, ok := unitId(entry); ok {
			structIds = append(structIds, structId)
		}
	}
	sort.Ints(structIds)

	names := []string{}
	for _, structId := range structIds {
		names = append(names, fmt.Sprintf("%d%s", structId, structFileSuffix))
	}
	return names
}

func (self *StructStore) info(uid string, structId int, unit *structUnit) *StructInfo {
	return &StructInfo{
		Uid:         uid,
		Id:          structId,
		Upvoters:    unit.upvoters,
		SubmittedAt: unit.submittedAt,
		Payload:     unit.payload,
		Image:       unit.image,
		Score:       self.settings.ScoreSettings.ScoreNow(unit.submittedAt, len(unit.upvoters)),
	}
}

type structUnit struct {
	upvoters    []string
	submittedAt int64
	payload     json.RawMessage
	image       string
}

func (self *StructStore) readUnit(path string) (*structUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("truncated struct unit %s", path)
	}

	unit := &structUnit{}
	if err := json.Unmarshal([]byte(lines[0]), &unit.upvoters); err != nil {
		return nil, err
	}
	submittedAt, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return nil, err
	}
	unit.submittedAt = submittedAt
	unit.payload = json.RawMessage(lines[2])
	if 4 <= len(lines) {
		unit.image = lines[3]
	}
	return unit, nil
}

// writeUnit replaces the unit atomically: write a temp file in the same
// directory, then rename over the target. A reader never observes a
// half-written unit, and a crash mid-write leaves the old unit intact.
func (self *StructStore) writeUnit(path string, unit *structUnit) error {
	upvotersLine, err := json.Marshal(unit.upvoters)
	if err != nil {
		return err
	}
	// valid JSON may carry newlines as whitespace between tokens, which
	// would split the payload across unit lines; compact it to one line
	payloadLine := &bytes.Buffer{}
	if err := json.Compact(payloadLine, unit.payload); err != nil {
		return err
	}
	if strings.ContainsAny(unit.image, "\r\n") {
		return fmt.Errorf("image must be a single line")
	}

	var buff bytes.Buffer
	buff.Write(upvotersLine)
	buff.WriteByte('\n')
	buff.WriteString(strconv.FormatInt(unit.submittedAt, 10))
	buff.WriteByte('\n')
	buff.Write(payloadLine.Bytes())
	if unit.image != "" {
		buff.WriteByte('\n')
		buff.WriteString(unit.image)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".unit-*")
	if err != nil {
		return err
	}
	tempPath := f.Name()

	if _, err := f.Write(buff.Bytes()); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

// unitId extracts the struct id from an active storage unit entry.
// `deleted/` and temp files do not parse and are excluded here.
func unitId(entry os.DirEntry) (int, bool) {
	if entry.IsDir() || !strings.HasSuffix(entry.Name(), structFileSuffix) {
		return 0, false
	}
	structId, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), structFileSuffix))
	if err != nil {
		return 0, false
	}
	return structId, true
}
