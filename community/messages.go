package community

import (
	"encoding/json"
)

// Every socket message is one JSON text frame: {"event": ..., "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// client -> server

type SessionArgs struct {
	Uid string `json:"uid"`
	// optional bearer token; when present its claims name the identity
	ByJwt string `json:"byJwt,omitempty"`
}

type ShareArgs struct {
	Uid    string          `json:"uid"`
	Struct json.RawMessage `json:"struct"`
	Image  string          `json:"image,omitempty"`
}

type UpvoteArgs struct {
	// the voting identity
	Uid string `json:"uid"`
	// the struct owner
	StructUid string `json:"struct_uid"`
	Id        int    `json:"id"`
}

type DeleteStructArgs struct {
	Uid string `json:"uid"`
	Id  int    `json:"id"`
}

type GetScoreArgs struct {
	Uid string `json:"uid"`
}

type GetStructCountArgs struct {
	Uid string `json:"uid"`
}

type JoinArgs struct {
	Room string `json:"room"`
}

type LeaveArgs struct {
	Room      string `json:"room"`
	SessionId string `json:"sessionId,omitempty"`
}

// server -> client

type OkResult struct {
	Data string `json:"data"`
}

type NewAcceptEvent struct {
	Uid       string `json:"uid"`
	Query     any    `json:"query"`
	Timestamp int64  `json:"timestamp"`
}

type NewDefineEvent struct {
	Uid       string `json:"uid"`
	Defined   any    `json:"defined"`
	Timestamp int64  `json:"timestamp"`
}

type StructEvent struct {
	Uid     string          `json:"uid"`
	Id      int             `json:"id"`
	Score   float64         `json:"score"`
	Upvotes []string        `json:"upvotes"`
	Struct  json.RawMessage `json:"struct"`
	Image   string          `json:"image,omitempty"`
}

type UpvoteEvent struct {
	// the struct owner
	Uid string `json:"uid"`
	Id  int    `json:"id"`
	// the voter
	Up    string  `json:"up"`
	Score float64 `json:"score"`
}

type UtterancesEvent struct {
	Uid        string            `json:"uid"`
	Utterances []json.RawMessage `json:"utterances"`
}

type TopBuildersEvent struct {
	TopBuilders []*TopBuilder `json:"top_builders"`
}

type ScoreResult struct {
	Score int `json:"score"`
}

type UserStructsResult struct {
	Structs []string `json:"structs"`
}

func structEvent(info *StructInfo) *StructEvent {
	return &StructEvent{
		Uid:     info.Uid,
		Id:      info.Id,
		Score:   info.Score,
		Upvotes: info.Upvoters,
		Struct:  info.Payload,
		Image:   info.Image,
	}
}
