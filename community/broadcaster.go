package community

import (
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// Member receives fan-out events. Delivery must not block: implementations
// queue or drop (see Client.Deliver).
type Member interface {
	Deliver(event string, payload any)
}

// Broadcaster owns room membership: an explicit room name -> member map,
// never implicit framework state. Membership is ephemeral; it exists only
// while a connection is attached.
type Broadcaster struct {
	stateLock sync.Mutex
	// room -> connection id -> member
	rooms map[string]map[Id]Member
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms: map[string]map[Id]Member{},
	}
}

func (self *Broadcaster) Join(room string, connectionId Id, member Member) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	members, ok := self.rooms[room]
	if !ok {
		members = map[Id]Member{}
		self.rooms[room] = members
	}
	members[connectionId] = member
	glog.V(2).Infof("[b]join %s %s (%d)\n", room, connectionId, len(members))
}

// idempotent when not a member
func (self *Broadcaster) Leave(room string, connectionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.leaveLocked(room, connectionId)
}

// LeaveAll removes the connection from every room. Called on disconnect.
func (self *Broadcaster) LeaveAll(connectionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, room := range maps.Keys(self.rooms) {
		self.leaveLocked(room, connectionId)
	}
}

func (self *Broadcaster) leaveLocked(room string, connectionId Id) {
	members, ok := self.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[connectionId]; !ok {
		return
	}
	delete(members, connectionId)
	if len(members) == 0 {
		delete(self.rooms, room)
	}
	glog.V(2).Infof("[b]leave %s %s (%d)\n", room, connectionId, len(members))
}

// Broadcast fans `event` out to every member of `room`, including the
// originator if it is a member. The member list is snapshotted under the
// lock and delivery happens outside it, fire-and-forget: a slow member
// drops frames, it never backpressures the writer.
func (self *Broadcaster) Broadcast(room string, event string, payload any) {
	self.stateLock.Lock()
	members := maps.Values(self.rooms[room])
	self.stateLock.Unlock()

	metricBroadcasts.Inc()
	for _, member := range members {
		member.Deliver(event, payload)
	}
}

// MemberCount reports current room occupancy.
func (self *Broadcaster) MemberCount(room string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.rooms[room])
}
