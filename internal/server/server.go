package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/droproom/droproom/internal/config"
	"github.com/droproom/droproom/internal/stats"
)

const (
	metricActiveConnections = "ActiveConnections"
	metricActiveRooms       = "ActiveRooms"
	metricMessagesRelayed   = "MessagesRelayed"
	metricDocumentsRelayed  = "DocumentsRelayed"
	metricSweepEvictions    = "SweepEvictions"
)

type stopRequest struct {
	done chan struct{}
}

// RelayServer owns the room registry and the presence table. Room
// lifecycle (create, unload) is serialized through its run loop; each
// live room runs its own goroutine.
type RelayServer struct {
	log      *log.Logger
	cfg      *config.Config
	stats    stats.StatsProvider
	presence *PresenceTable

	clients     map[string]*Client
	clientsLock sync.Mutex

	rooms     map[string]*Room
	roomsLock sync.RWMutex

	joinChan       chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	sweepChan      chan time.Time
	stop           chan stopRequest
	done           chan struct{}
}

func NewRelayServer(logger *log.Logger, cfg *config.Config, su stats.StatsProvider) (*RelayServer, error) {
	rs := &RelayServer{
		log:            logger,
		cfg:            cfg,
		stats:          su,
		presence:       NewPresenceTable(),
		clients:        make(map[string]*Client),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		sweepChan:      make(chan time.Time, 1),
		stop:           make(chan stopRequest),
		done:           make(chan struct{}),
	}

	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricMessagesRelayed)
	su.RegisterMetric(metricDocumentsRelayed)
	su.RegisterMetric(metricSweepEvictions)

	return rs, nil
}

func (rs *RelayServer) Run() {
	for {
		select {
		case joinMsg := <-rs.joinChan:
			room := rs.getRoom(joinMsg.Join.RoomId)
			if room == nil {
				room = rs.loadRoom(joinMsg.Join.RoomId)
				go room.start()
			}

			select {
			case room.joinChan <- joinMsg:
			default:
				rs.log.Printf("join channel full on room %q", room.id)
				joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
			}
		case req := <-rs.unloadRoomChan:
			rs.unloadRoom(req)
		case t := <-rs.sweepChan:
			rs.sweep(t)
		case req := <-rs.stop:
			rs.log.Println("shutting down rooms")
			rs.roomsLock.Lock()
			for _, r := range rs.rooms {
				r.exit <- exitReq{}
				<-r.done
			}
			rs.rooms = make(map[string]*Room)
			rs.roomsLock.Unlock()

			close(req.done)
			close(rs.done)
			return
		}
	}
}

// loadRoom creates and registers a room. Rooms only exist while they
// have members, so creation is always driven by a join.
func (rs *RelayServer) loadRoom(id string) *Room {
	room := &Room{
		id:               id,
		createdAt:        Now(),
		relay:            rs,
		members:          make(map[string]*member),
		historyCap:       rs.cfg.HistoryLimit,
		maxDocumentBytes: rs.cfg.MaxDocumentBytes,
		clients:          make(map[*Client]struct{}),
		userMap:          make(map[string]map[*Client]struct{}),
		joinChan:         make(chan *ClientMessage, 256),
		leaveChan:        make(chan *ClientMessage, 256),
		clientMsgChan:    make(chan *ClientMessage, 256),
		detachChan:       make(chan *Client, 256),
		touchChan:        make(chan string, 256),
		sweepChan:        make(chan time.Time, 1),
		exit:             make(chan exitReq),
		done:             make(chan struct{}),
		log:              rs.log,
		stats:            rs.stats,
	}

	rs.roomsLock.Lock()
	rs.rooms[id] = room
	rs.roomsLock.Unlock()

	rs.stats.Incr(metricActiveRooms)
	return room
}

func (rs *RelayServer) unloadRoom(req unloadRoomRequest) {
	room := rs.getRoom(req.roomId)
	if room == nil {
		return
	}

	rs.log.Printf("removing room %q", req.roomId)
	rs.roomsLock.Lock()
	delete(rs.rooms, req.roomId)
	rs.roomsLock.Unlock()

	done := make(chan string)
	room.exit <- exitReq{deleted: req.deleted, done: done}
	<-done

	rs.stats.Decr(metricActiveRooms)
}

// sweep is the reconciliation pass: force-disconnect channels whose
// bindings are stale, then let each room evict members with no live
// channel and a stale lastSeen.
func (rs *RelayServer) sweep(now time.Time) {
	cutoff := now.Add(-rs.cfg.StaleAfter())

	for _, b := range rs.presence.Stale(cutoff) {
		rs.log.Printf("evicting stale channel %q (user %q)", b.ChannelId, b.UserId)
		if c := rs.clientById(b.ChannelId); c != nil {
			c.stopClient()
		}
		rs.presence.Release(b.ChannelId)
		rs.stats.Incr(metricSweepEvictions)
	}

	rs.roomsLock.RLock()
	rooms := make([]*Room, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		rooms = append(rooms, r)
	}
	rs.roomsLock.RUnlock()

	for _, r := range rooms {
		select {
		case r.sweepChan <- cutoff:
		default:
		}
	}
}

func (rs *RelayServer) requestSweep(t time.Time) {
	select {
	case rs.sweepChan <- t:
	default:
	}
}

func (rs *RelayServer) getRoom(id string) *Room {
	rs.roomsLock.RLock()
	defer rs.roomsLock.RUnlock()

	return rs.rooms[id]
}

func (rs *RelayServer) roomExists(id string) bool {
	return rs.getRoom(id) != nil
}

// RegisterClient adds a freshly accepted channel and creates its
// presence binding.
func (rs *RelayServer) RegisterClient(c *Client) {
	rs.clientsLock.Lock()
	rs.clients[c.id] = c
	rs.clientsLock.Unlock()

	rs.presence.Bind(c.id)
	rs.stats.Incr(metricActiveConnections)
}

func (rs *RelayServer) DeregisterClient(c *Client) {
	rs.clientsLock.Lock()
	_, ok := rs.clients[c.id]
	delete(rs.clients, c.id)
	rs.clientsLock.Unlock()

	if ok {
		rs.stats.Decr(metricActiveConnections)
	}
}

func (rs *RelayServer) clientById(id string) *Client {
	rs.clientsLock.Lock()
	defer rs.clientsLock.Unlock()

	return rs.clients[id]
}

// Shutdown stops the run loop after all rooms have exited. Clients are
// stopped first so no new events race the teardown.
func (rs *RelayServer) Shutdown(ctx context.Context) error {
	rs.clientsLock.Lock()
	for _, c := range rs.clients {
		c.stopClient()
	}
	rs.clientsLock.Unlock()

	req := stopRequest{done: make(chan struct{})}
	select {
	case rs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
