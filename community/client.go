package community

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type ClientSettings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingTimeout  time.Duration
	// frames queued per connection before fan-out deliveries drop
	SendBufferSize int
	// cap on one inbound frame, sized for payloads with attached blobs
	MaxFrameBytes int64
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingTimeout:    15 * time.Second,
		SendBufferSize: 256,
		MaxFrameBytes:  1 * 1024 * 1024,
	}
}

// Client is one attached connection. State machine:
// Disconnected -> Connected -> (optional) JoinedRoom -> Disconnected.
// The read loop is the only goroutine that dispatches this connection's
// events, so handling one client's message can never stall another's.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	service      *Service
	connectionId Id
	conn         *websocket.Conn

	send chan []byte

	// bound by the session event; read and written on the read loop only
	uid string

	settings *ClientSettings
}

func newClient(ctx context.Context, service *Service, conn *websocket.Conn, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:          cancelCtx,
		cancel:       cancel,
		service:      service,
		connectionId: NewId(),
		conn:         conn,
		send:         make(chan []byte, settings.SendBufferSize),
		settings:     settings,
	}
}

// run drives the connection to completion. It returns when the socket
// closes or the context is done.
func (self *Client) run() {
	go self.writeLoop()
	self.readLoop()
}

func (self *Client) readLoop() {
	defer func() {
		self.cancel()
		self.service.disconnect(self)
		self.conn.Close()
	}()

	self.conn.SetReadLimit(self.settings.MaxFrameBytes)
	self.conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	self.conn.SetPongHandler(func(string) error {
		self.conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		_, message, err := self.conn.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[c]%s<- closed = %s\n", self.connectionId, err)
			return
		}
		self.conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		self.service.handleFrame(self, message)
	}
}

func (self *Client) writeLoop() {
	defer func() {
		self.cancel()
		self.conn.Close()
	}()

	ping := time.NewTicker(self.settings.PingTimeout)
	defer ping.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.send:
			self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				// a websocket write deadline cannot be recovered
				glog.Infof("[c]%s-> error = %s\n", self.connectionId, err)
				return
			}
			glog.V(2).Infof("[c]%s->\n", self.connectionId)
		case <-ping.C:
			self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Deliver is the live fan-out path (Member). Never blocks: a full send
// queue drops the frame for this connection only.
func (self *Client) Deliver(event string, payload any) {
	message, err := encodeFrame(event, payload)
	if err != nil {
		glog.Infof("[c]%s encode error = %s\n", self.connectionId, err)
		return
	}

	select {
	case self.send <- message:
	default:
		metricDeliveriesDropped.Inc()
		glog.Infof("[c]drop %s %s->\n", event, self.connectionId)
	}
}

// reply is the direct path for requester-only responses and snapshot
// replay. It blocks until queued so replay items arrive complete and in
// order; it only ever blocks this connection's own read loop.
func (self *Client) reply(event string, payload any) {
	message, err := encodeFrame(event, payload)
	if err != nil {
		glog.Infof("[c]%s encode error = %s\n", self.connectionId, err)
		return
	}

	select {
	case <-self.ctx.Done():
	case self.send <- message:
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Frame{
		Event: event,
		Data:  data,
	})
}
