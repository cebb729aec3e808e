package server

import (
	"encoding/base64"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/droproom/droproom/internal/stats"
	"github.com/droproom/droproom/internal/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

type exitReq struct {
	deleted bool
	done    chan string
}

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

// member is a room's record of one logical user, shared by however many
// channels that user connects through.
type member struct {
	userId      string
	displayName string
	joinedAt    time.Time
	lastSeen    time.Time
}

// Room owns its member map and bounded history. All mutation happens on
// the room's own goroutine; the clients/userMap maps are additionally
// lock-guarded because fan-out helpers are called from tests and exit
// paths.
type Room struct {
	id         string
	createdAt  time.Time
	creatorId  string
	relay      *RelayServer
	members    map[string]*member
	history    []types.Message
	historyCap int

	maxDocumentBytes int64

	clients    map[*Client]struct{}
	userMap    map[string]map[*Client]struct{}
	clientLock sync.RWMutex

	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	detachChan    chan *Client
	touchChan     chan string
	sweepChan     chan time.Time

	// exit is used to signal the room to exit
	exit chan exitReq
	done chan struct{}

	log   *log.Logger
	stats stats.StatsProvider
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Publish != nil:
				r.handlePublish(msg)
			case msg.Document != nil:
				r.handleDocument(msg)
			case msg.End != nil:
				r.handleEnd(msg)
			case msg.Presence != nil:
				r.handlePresenceReq(msg)
			}
		case c := <-r.detachChan:
			r.deleteClient(c)
		case userId := <-r.touchChan:
			r.touchMember(userId)
		case cutoff := <-r.sweepChan:
			r.handleSweep(cutoff)
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

// handleJoin admits a channel into the room. A join for a userId that
// already has a member record is a rejoin: the record is updated in
// place, creator status is untouched, and the full history is returned
// so the client can reconcile gaps.
func (r *Room) handleJoin(msg *ClientMessage) {
	join := msg.Join
	c := msg.client

	m, rejoin := r.members[join.UserId]
	if rejoin {
		m.displayName = join.DisplayName
		m.lastSeen = msg.Timestamp
	} else {
		if len(r.members) == 0 && r.creatorId == "" {
			r.creatorId = join.UserId
		}
		r.members[join.UserId] = &member{
			userId:      join.UserId,
			displayName: join.DisplayName,
			joinedAt:    msg.Timestamp,
			lastSeen:    msg.Timestamp,
		}
	}

	c.bindIdentity(join.UserId, join.DisplayName)
	r.attachClientAs(c, join.UserId)
	r.relay.presence.Claim(c.id, join.UserId, r.id)

	c.queueMessage(NoErrOK(msg.Id, types.RoomInfo{
		Id:        r.id,
		CreatedAt: r.createdAt,
		IsCreator: join.UserId == r.creatorId,
		Members:   r.snapshotMembers(),
	}))

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		History: &History{
			RoomId:   r.id,
			Messages: slices.Clone(r.history),
		},
	})

	r.broadcastPresence()
}

// handleLeave removes the member record for the leaving user and drops
// all of that user's channels from the room. Idempotent: leaving a room
// the user is not in is not an error.
func (r *Room) handleLeave(msg *ClientMessage) {
	c := msg.client
	userId, _ := c.identity()

	if msg.Id != 0 {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}

	if _, ok := r.members[userId]; !ok {
		return
	}

	delete(r.members, userId)
	r.detachUser(userId)

	if len(r.members) == 0 {
		r.requestUnload(false)
		return
	}

	r.broadcastPresence()
}

func (r *Room) handlePublish(msg *ClientMessage) {
	m := r.senderMember(msg)
	if m == nil {
		return
	}

	out := types.Message{
		Id:         newMessageId(m.userId),
		RoomId:     r.id,
		SenderId:   m.userId,
		SenderName: m.displayName,
		Kind:       types.KindText,
		Text:       msg.Publish.Content,
		Timestamp:  msg.Timestamp,
	}

	r.appendHistory(out)
	r.stats.Incr(metricMessagesRelayed)
	r.deliver(msg.client, msg.Id, &out)
}

func (r *Room) handleDocument(msg *ClientMessage) {
	m := r.senderMember(msg)
	if m == nil {
		return
	}

	doc := msg.Document
	decoded, err := base64.StdEncoding.DecodeString(doc.Content)
	if err != nil {
		msg.client.queueMessage(ErrInvalidRequest(msg.Id, "document content is not valid base64"))
		return
	}
	if int64(len(decoded)) != doc.SizeBytes {
		msg.client.queueMessage(ErrInvalidRequest(msg.Id, "declared size does not match content"))
		return
	}
	if doc.SizeBytes > r.maxDocumentBytes {
		msg.client.queueMessage(ErrPayloadTooLarge(msg.Id))
		return
	}

	mime := doc.MimeType
	if mime == "" {
		mime = mimetype.Detect(decoded).String()
	}

	out := types.Message{
		Id:         newMessageId(m.userId),
		RoomId:     r.id,
		SenderId:   m.userId,
		SenderName: m.displayName,
		Kind:       types.KindDocument,
		Document: &types.DocumentPayload{
			Name:      doc.Name,
			MimeType:  mime,
			SizeBytes: doc.SizeBytes,
			Content:   doc.Content,
		},
		Timestamp: msg.Timestamp,
	}

	r.appendHistory(out)
	r.stats.Incr(metricDocumentsRelayed)
	r.deliver(msg.client, msg.Id, &out)
}

// deliver fans a message out to every member channel except the origin,
// and hands the origin an echo-tagged copy so the sending UI can
// reconcile its optimistic local bubble instead of appending a second
// one.
func (r *Room) deliver(origin *Client, reqId int, out *types.Message) {
	origin.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: reqId, Timestamp: out.Timestamp},
		Message:     out,
		Echo:        true,
	})

	r.broadcast(&ServerMessage{
		Message:    out,
		SkipClient: origin,
	})
}

// handleEnd forcibly removes the room. Only the creator may end a room.
func (r *Room) handleEnd(msg *ClientMessage) {
	m := r.senderMember(msg)
	if m == nil {
		return
	}

	if m.userId != r.creatorId {
		msg.client.queueMessage(ErrNotCreator(msg.Id))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
	r.requestUnload(true)
}

func (r *Room) handlePresenceReq(msg *ClientMessage) {
	m := r.senderMember(msg)
	if m == nil {
		return
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		Presence: &PresenceUpdate{
			RoomId:  r.id,
			Members: r.snapshotMembers(),
		},
	})
}

// senderMember resolves the sending channel's member record, refreshes
// its lastSeen, and rejects channels that are not members.
func (r *Room) senderMember(msg *ClientMessage) *member {
	userId, _ := msg.client.identity()
	m, ok := r.members[userId]
	if !ok {
		msg.client.queueMessage(ErrNotInRoom(msg.Id))
		return nil
	}

	m.lastSeen = msg.Timestamp
	return m
}

func (r *Room) touchMember(userId string) {
	if m, ok := r.members[userId]; ok {
		m.lastSeen = Now()
	}
}

// handleSweep evicts members whose lastSeen predates cutoff and who
// have no live channel left. Emptied rooms are unloaded; otherwise a
// membership change is broadcast.
func (r *Room) handleSweep(cutoff time.Time) {
	var changed bool
	for userId, m := range r.members {
		if !m.lastSeen.Before(cutoff) {
			continue
		}
		if r.relay.presence.LiveChannels(userId, r.id, cutoff) > 0 {
			continue
		}

		r.log.Printf("evicting stale member %q from room %q", userId, r.id)
		delete(r.members, userId)
		r.detachUser(userId)
		changed = true
	}

	if len(r.members) == 0 {
		r.requestUnload(false)
		return
	}

	if changed {
		r.broadcastPresence()
	}
}

func (r *Room) handleExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)
	if e.deleted {
		// notify all clients that the room has been ended
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			RoomEnded:   &RoomEnded{RoomId: r.id},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.detachRoom(r.id)
		r.relay.presence.ReleaseClaim(c.id)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.id
	}
}

func (r *Room) requestUnload(deleted bool) {
	select {
	case r.relay.unloadRoomChan <- unloadRoomRequest{roomId: r.id, deleted: deleted}:
	default:
		r.log.Printf("unload channel full, room %q stays loaded", r.id)
	}
}

func (r *Room) appendHistory(msg types.Message) {
	r.history = append(r.history, msg)
	if len(r.history) > r.historyCap {
		r.history = slices.Delete(r.history, 0, len(r.history)-r.historyCap)
	}
}

// snapshotMembers returns a deterministic member list: ordered by join
// time, then userId, one entry per user.
func (r *Room) snapshotMembers() []types.MemberRef {
	refs := lo.MapToSlice(r.members, func(userId string, m *member) types.MemberRef {
		return types.MemberRef{
			UserId:      userId,
			DisplayName: m.displayName,
			IsCreator:   userId == r.creatorId,
			LastSeen:    m.lastSeen,
			JoinedAt:    m.joinedAt,
		}
	})

	slices.SortFunc(refs, func(a, b types.MemberRef) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserId, b.UserId)
	})

	return refs
}

func (r *Room) broadcastPresence() {
	r.broadcast(&ServerMessage{
		Presence: &PresenceUpdate{
			RoomId:  r.id,
			Members: r.snapshotMembers(),
		},
	})
}

// attachClientAs records the channel under its claimed identity.
func (r *Room) attachClientAs(c *Client, userId string) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[userId] == nil {
		r.userMap[userId] = make(map[*Client]struct{})
	}
	r.userMap[userId][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) deleteClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.detachRoom(r.id)

	userId, _ := c.identity()
	if userClients, ok := r.userMap[userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, userId)
		}
	}
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}

	return c, true
}

// detachUser drops every channel a user has attached to this room.
func (r *Room) detachUser(userId string) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if userClients, ok := r.userMap[userId]; ok {
		for client := range userClients {
			delete(r.clients, client)
			client.detachRoom(r.id)
			r.relay.presence.ReleaseClaim(client.id)
		}
		delete(r.userMap, userId)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	msg.Timestamp = Now()

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
