package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Channel is the abstract bidirectional transport for one client
// instance (tab or device). Implementations may drop, duplicate or
// reorder deliveries across reconnects; the core only requires that
// ReadMessage blocks until a message or error and that Close unblocks
// it.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Client struct {
	id    string
	conn  Channel
	relay *RelayServer
	log   *log.Logger

	identityLock sync.RWMutex
	userId       string
	displayName  string

	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex

	seen     map[string]*recentIds
	seenLock sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn Channel, rs *RelayServer, l *log.Logger) *Client {
	return &Client{
		id:    uuid.NewString(),
		conn:  conn,
		relay: rs,
		log:   l,
		send:  make(chan *ServerMessage, 256),
		rooms: make(map[string]*Room),
		seen:  make(map[string]*recentIds),
		stop:  make(chan struct{}),
	}
}

// Id returns the channel handle this client is bound under.
func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	defer func() {
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if err := c.conn.WriteMessage(bytes); err != nil {
				c.log.Println("write message:", err)
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidRequest(-1, "invalid message format"))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		if err := msg.validateEvent(); err != nil {
			c.queueMessage(ErrInvalidRequest(msg.Id, err.Error()))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	// any inbound traffic proves the channel is alive
	c.relay.presence.Touch(c.id, Now())

	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.Leave != nil:
		c.routeToRoom(msg, msg.Leave.RoomId, roomLeave)
	case msg.Publish != nil:
		c.routeToRoom(msg, msg.Publish.RoomId, roomEvent)
	case msg.Document != nil:
		if msg.Document.SizeBytes > c.relay.cfg.MaxDocumentBytes {
			c.queueMessage(ErrPayloadTooLarge(msg.Id))
			return
		}
		c.routeToRoom(msg, msg.Document.RoomId, roomEvent)
	case msg.End != nil:
		c.routeToRoom(msg, msg.End.RoomId, roomEvent)
	case msg.Presence != nil:
		c.routeToRoom(msg, msg.Presence.RoomId, roomEvent)
	case msg.Heartbeat != nil:
		c.heartbeat(msg)
	}
}

type roomLane int

const (
	roomEvent roomLane = iota
	roomLeave
)

// routeToRoom hands a validated event to the owning room goroutine.
func (c *Client) routeToRoom(msg *ClientMessage, roomId string, lane roomLane) {
	r := c.getRoom(roomId)
	if r == nil {
		if c.relay.roomExists(roomId) {
			c.queueMessage(ErrNotInRoom(msg.Id))
		} else {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		}
		return
	}

	dst := r.clientMsgChan
	if lane == roomLeave {
		dst = r.leaveChan
	}

	select {
	case dst <- msg:
	default:
		c.log.Printf("event channel full for room %q", r.id)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// heartbeat refreshes liveness timestamps. It never triggers a presence
// broadcast.
func (c *Client) heartbeat(msg *ClientMessage) {
	userId, _ := c.identity()
	if userId != "" {
		c.roomsLock.RLock()
		for _, r := range c.rooms {
			select {
			case r.touchChan <- userId:
			default:
			}
		}
		c.roomsLock.RUnlock()
	}

	c.queueMessage(HeartbeatAckMsg(msg.Id))
}

func (c *Client) joinRoom(msg *ClientMessage) {
	// a channel claims one room at a time; joining a new room leaves
	// any previous room first
	c.roomsLock.RLock()
	var previous []*Room
	for id, r := range c.rooms {
		if id != msg.Join.RoomId {
			previous = append(previous, r)
		}
	}
	c.roomsLock.RUnlock()

	for _, r := range previous {
		select {
		case r.leaveChan <- &ClientMessage{Leave: &Leave{RoomId: r.id}, client: c}:
		default:
			c.log.Printf("leave channel full for room %q", r.id)
		}
	}

	select {
	case c.relay.joinChan <- msg:
	default:
		c.log.Println("join channel full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// queueMessage hands a message to the write pump. Deliveries of room
// messages are deduplicated by id: a message this client has already
// seen is silently absorbed no matter which path redelivered it.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	if msg.Message != nil && !c.markDelivered(msg.Message.RoomId, msg.Message.Id) {
		return true
	}

	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

// markDelivered records a message id in the per-room recent set and
// reports whether this is its first delivery on this channel.
func (c *Client) markDelivered(roomId, msgId string) bool {
	c.seenLock.Lock()
	defer c.seenLock.Unlock()

	set := c.seen[roomId]
	if set == nil {
		set = newRecentIds(recentIdCap)
		c.seen[roomId] = set
	}

	return set.remember(msgId)
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) bindIdentity(userId, displayName string) {
	c.identityLock.Lock()
	defer c.identityLock.Unlock()

	c.userId = userId
	c.displayName = displayName
}

func (c *Client) identity() (string, string) {
	c.identityLock.RLock()
	defer c.identityLock.RUnlock()

	return c.userId, c.displayName
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.relay.presence.Release(c.id)
	c.relay.DeregisterClient(c)
	c.detachAllRooms()
	c.stopClient()
}

// detachAllRooms drops this channel from every room it is attached to.
// Membership is untouched; a disconnect is not a leave.
func (c *Client) detachAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		select {
		case room.detachChan <- c:
		default:
			c.log.Printf("detach channel full for room %q", room.id)
		}
	}
}

func (c *Client) detachRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
