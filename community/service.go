package community

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type ServiceSettings struct {
	// identities swept for the utterance replay on join
	ActiveUserCount int
	// utterances replayed per swept identity
	UtterancesPerUser int
	// per-identity cap on the struct snapshot, bounds replay cost on
	// rooms with prolific submitters
	MaxStructsPerUser int
	// leaderboard size, also the citation annotation depth per builder
	TopBuilderCount int

	ClientSettings *ClientSettings
}

func DefaultServiceSettings() *ServiceSettings {
	return &ServiceSettings{
		ActiveUserCount:   5,
		UtterancesPerUser: 11,
		MaxStructsPerUser: 100,
		TopBuilderCount:   7,
		ClientSettings:    DefaultClientSettings(),
	}
}

// Service ties the stores and the broadcaster to the socket event
// surface. One Service handles every connection; per-message
// failures are confined to the originating connection.
type Service struct {
	ctx context.Context

	logStore      *LogStore
	structStore   *StructStore
	citationStore *CitationStore
	broadcaster   *Broadcaster

	settings *ServiceSettings

	upgrader websocket.Upgrader
}

func NewServiceWithDefaults(
	ctx context.Context,
	logStore *LogStore,
	structStore *StructStore,
	citationStore *CitationStore,
) *Service {
	return NewService(
		ctx,
		logStore,
		structStore,
		citationStore,
		DefaultServiceSettings(),
	)
}

func NewService(
	ctx context.Context,
	logStore *LogStore,
	structStore *StructStore,
	citationStore *CitationStore,
	settings *ServiceSettings,
) *Service {
	return &Service{
		ctx:           ctx,
		logStore:      logStore,
		structStore:   structStore,
		citationStore: citationStore,
		broadcaster:   NewBroadcaster(),
		settings:      settings,
		upgrader: websocket.Upgrader{
			// identity is in-band; the socket endpoint accepts any origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *Service) Broadcaster() *Broadcaster {
	return self.broadcaster
}

// ServeHTTP upgrades the connection and runs it to completion.
func (self *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[s]upgrade error = %s\n", err)
		return
	}

	client := newClient(self.ctx, self, conn, self.settings.ClientSettings)
	client.reply("ok", &OkResult{Data: "Connected"})
	client.run()
}

// handleFrame dispatches one inbound frame. Malformed frames and frames
// missing required fields are dropped with no reply: clients are not told
// about drops, and a panic in one handler never leaves this connection.
func (self *Service) handleFrame(client *Client, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[s]recovered from %s handling frame = %v\n", client.connectionId, r)
		}
	}()

	metricMessagesReceived.Inc()

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		self.drop(client, "frame", err)
		return
	}

	switch frame.Event {
	case "session":
		self.handleSession(client, frame.Data)
	case "log":
		self.handleLog(client, frame.Data)
	case "share":
		self.handleShare(client, frame.Data)
	case "upvote":
		self.handleUpvote(client, frame.Data)
	case "delete_struct":
		self.handleDeleteStruct(client, frame.Data)
	case "getscore":
		self.handleGetScore(client, frame.Data)
	case "getstructcount":
		self.handleGetStructCount(client, frame.Data)
	case "join":
		self.handleJoin(client, frame.Data)
	case "leave":
		self.handleLeave(client, frame.Data)
	default:
		glog.V(2).Infof("[s]ignore event %s from %s\n", frame.Event, client.connectionId)
	}
}

func (self *Service) drop(client *Client, event string, reason any) {
	metricFramesDropped.Inc()
	glog.V(2).Infof("[s]drop %s from %s = %v\n", event, client.connectionId, reason)
}

// session binds an identity to the connection and logs a connect event.
// The identity is either a plain uid or the uid claim of a bearer token.
func (self *Service) handleSession(client *Client, data json.RawMessage) {
	var args SessionArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "session", err)
		return
	}

	uid := args.Uid
	if args.ByJwt != "" {
		sessionJwt, err := ParseSessionJwtUnverified(args.ByJwt)
		if err != nil {
			self.drop(client, "session", err)
			return
		}
		if sessionJwt.Uid != "" {
			uid = sessionJwt.Uid
		}
	}
	if !validUid(uid) {
		self.drop(client, "session", "bad uid")
		return
	}

	client.uid = uid
	if err := self.logStore.Append(uid, map[string]any{"type": "connect"}); err != nil {
		glog.Infof("[s]connect log error %s = %s\n", uid, err)
	}
}

// log appends a record to the identity's audit trail. Records typed
// accept/define additionally fan a derived summary out to the community
// room, strictly after the persist succeeds.
func (self *Service) handleLog(client *Client, data json.RawMessage) {
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		self.drop(client, "log", err)
		return
	}

	recordType, ok := record["type"].(string)
	if !ok {
		self.drop(client, "log", "missing type")
		return
	}
	// a record with no uid is still logged, under the null session; a uid
	// that cannot name a log file is not
	uid, _ := record["uid"].(string)
	if uid != "" && !validUid(uid) {
		self.drop(client, "log", "bad uid")
		return
	}

	if err := self.logStore.Append(uid, record); err != nil {
		glog.Infof("[s]log error %s = %s\n", uid, err)
		return
	}

	msg, _ := record["msg"].(map[string]any)

	if uid == "" {
		// no identity to attribute a summary to
		return
	}

	switch recordType {
	case "accept":
		if query, ok := msg["query"]; ok {
			self.broadcaster.Broadcast(CommunityRoom, "new_accept", &NewAcceptEvent{
				Uid:       uid,
				Query:     query,
				Timestamp: time.Now().Unix(),
			})
		}
	case "define":
		if defined, ok := msg["defineAs"]; ok {
			self.broadcaster.Broadcast(CommunityRoom, "new_define", &NewDefineEvent{
				Uid:       uid,
				Defined:   defined,
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

// share persists a new struct and fans it out with its initial score.
func (self *Service) handleShare(client *Client, data json.RawMessage) {
	var args ShareArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "share", err)
		return
	}
	if !validUid(args.Uid) || len(args.Struct) == 0 {
		self.drop(client, "share", "missing uid or struct")
		return
	}

	structId, err := self.structStore.Submit(args.Uid, args.Struct, args.Image)
	if err != nil {
		glog.Infof("[s]share error %s = %s\n", args.Uid, err)
		return
	}

	info, err := self.structStore.Get(args.Uid, structId)
	if err != nil {
		glog.Infof("[s]share read-back error %s/%d = %s\n", args.Uid, structId, err)
		return
	}
	self.broadcaster.Broadcast(CommunityRoom, "struct", structEvent(info))
}

// upvote applies an idempotent vote; only an applied vote broadcasts.
func (self *Service) handleUpvote(client *Client, data json.RawMessage) {
	var args UpvoteArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "upvote", err)
		return
	}
	if !validUid(args.Uid) || !validUid(args.StructUid) {
		self.drop(client, "upvote", "missing uid")
		return
	}

	applied, info, err := self.structStore.Upvote(args.StructUid, args.Id, args.Uid)
	if err != nil {
		glog.Infof("[s]upvote error %s/%d = %s\n", args.StructUid, args.Id, err)
		return
	}
	if !applied {
		return
	}

	self.broadcaster.Broadcast(CommunityRoom, "upvote", &UpvoteEvent{
		Uid:   args.StructUid,
		Id:    args.Id,
		Up:    args.Uid,
		Score: info.Score,
	})
}

// delete_struct soft-deletes when the acting identity owns the struct.
// A mismatch is a silent no-op so existence never leaks.
func (self *Service) handleDeleteStruct(client *Client, data json.RawMessage) {
	var args DeleteStructArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "delete_struct", err)
		return
	}
	if !validUid(args.Uid) || client.uid != args.Uid {
		self.drop(client, "delete_struct", "owner mismatch")
		return
	}

	if err := self.structStore.SoftDelete(args.Uid, args.Id); err != nil {
		glog.Infof("[s]delete error %s/%d = %s\n", args.Uid, args.Id, err)
	}
}

// getscore replies to the requester only, and only when the identity has a
// citation corpus.
func (self *Service) handleGetScore(client *Client, data json.RawMessage) {
	var args GetScoreArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "getscore", err)
		return
	}

	if !validUid(args.Uid) {
		self.drop(client, "getscore", "bad uid")
		return
	}

	score, ok := self.citationStore.Score(args.Uid)
	if !ok {
		return
	}
	client.reply("score", &ScoreResult{Score: score})
}

func (self *Service) handleGetStructCount(client *Client, data json.RawMessage) {
	var args GetStructCountArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "getstructcount", err)
		return
	}

	if !validUid(args.Uid) {
		self.drop(client, "getstructcount", "bad uid")
		return
	}

	client.reply("user_structs", &UserStructsResult{
		Structs: self.structStore.Ids(args.Uid),
	})
}

// join adds the connection to a room. Joining the community room first
// replays a bounded snapshot, in order: recent utterances, the builder
// leaderboard, then every live struct one by one. Only after the replay is
// the connection a live member for ordering purposes; replay and live
// frames share the connection's queue, so a client renders them in commit
// order.
func (self *Service) handleJoin(client *Client, data json.RawMessage) {
	var args JoinArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "join", err)
		return
	}
	if args.Room == "" {
		self.drop(client, "join", "missing room")
		return
	}

	self.broadcaster.Join(args.Room, client.connectionId, client)

	if args.Room == CommunityRoom {
		self.replayUtterances(client)
		self.replayTopBuilders(client)
		self.replayStructs(client)
	}
}

func (self *Service) handleLeave(client *Client, data json.RawMessage) {
	var args LeaveArgs
	if err := json.Unmarshal(data, &args); err != nil {
		self.drop(client, "leave", err)
		return
	}

	self.broadcaster.Leave(args.Room, client.connectionId)
}

// disconnect logs the close and withdraws the connection from every room.
// Persistence already accepted is not rolled back.
func (self *Service) disconnect(client *Client) {
	self.broadcaster.LeaveAll(client.connectionId)

	if client.uid != "" {
		if err := self.logStore.Append(client.uid, map[string]any{"type": "disconnect"}); err != nil {
			glog.Infof("[s]disconnect log error %s = %s\n", client.uid, err)
		}
	}
}

func (self *Service) replayUtterances(client *Client) {
	uids, err := self.logStore.MostRecentlyActive(self.settings.ActiveUserCount)
	if err != nil {
		glog.Infof("[s]utterance replay error = %s\n", err)
		return
	}

	utterancePredicate := func(record *LogRecord) bool {
		return record.Type == "accept" || record.Type == "define"
	}

	for _, uid := range uids {
		records, err := self.logStore.Tail(uid, utterancePredicate, self.settings.UtterancesPerUser)
		if err != nil {
			glog.Infof("[s]utterance replay error %s = %s\n", uid, err)
			continue
		}

		utterances := []json.RawMessage{}
		for _, record := range records {
			utterances = append(utterances, json.RawMessage(record.Raw()))
		}
		client.reply("utterances", &UtterancesEvent{
			Uid:        uid,
			Utterances: utterances,
		})
	}
}

func (self *Service) replayTopBuilders(client *Client) {
	client.reply("top_builders", &TopBuildersEvent{
		TopBuilders: self.citationStore.TopBuilders(self.settings.TopBuilderCount),
	})
}

func (self *Service) replayStructs(client *Client) {
	err := self.structStore.ListAll(self.settings.MaxStructsPerUser, func(info *StructInfo) {
		client.reply("struct", structEvent(info))
	})
	if err != nil {
		glog.Infof("[s]struct replay error = %s\n", err)
	}
}
