package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/droproom/droproom/internal/stats"
	"github.com/droproom/droproom/internal/testutil"
	"github.com/droproom/droproom/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNewClient(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

	assert.NotEmpty(t, c.Id(), "expected a generated channel id")
	assert.NotNil(t, c.send, "expected send queue to be initialized")
	assert.Empty(t, c.rooms, "expected no room attachments on a fresh client")
}

func Test_queueMessage(t *testing.T) {
	t.Run("deduplicates room messages by id", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

		msg := &ServerMessage{Message: &types.Message{Id: "m1", RoomId: "AB12", Text: "hi"}}
		assert.True(t, c.queueMessage(msg), "expected first delivery to be accepted")
		assert.True(t, c.queueMessage(msg), "expected redelivery to be absorbed without error")
		assert.Len(t, c.send, 1, "expected exactly one queued copy")
	})

	t.Run("same id in different rooms is not deduplicated", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

		c.queueMessage(&ServerMessage{Message: &types.Message{Id: "m1", RoomId: "AB12"}})
		c.queueMessage(&ServerMessage{Message: &types.Message{Id: "m1", RoomId: "CD34"}})
		assert.Len(t, c.send, 2, "expected per-room dedup sets")
	})

	t.Run("reports failure when the queue is full", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

		for i := 0; i < cap(c.send); i++ {
			assert.True(t, c.queueMessage(NoErrOK(0, nil)), "expected queue to accept up to capacity")
		}
		assert.False(t, c.queueMessage(NoErrOK(0, nil)), "expected overflow to be reported")
	})
}

func Test_markDelivered(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

	assert.True(t, c.markDelivered("AB12", "m1"), "expected first sighting to be new")
	assert.False(t, c.markDelivered("AB12", "m1"), "expected repeat sighting to be known")
	assert.True(t, c.markDelivered("AB12", "m2"), "expected distinct id to be new")
}

func Test_routeToRoom(t *testing.T) {
	t.Run("unknown room yields not found", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

		c.routeToRoom(&ClientMessage{BaseMessage: BaseMessage{Id: 1}}, "NOPE", roomEvent)

		resp := findResponse(drain(c))
		assert.Equal(t, http.StatusNotFound, resp.ResponseCode, "expected room-not-found for unknown room")
	})

	t.Run("existing room the channel never joined yields forbidden", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		rs.loadRoom("AB12")
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

		c.routeToRoom(&ClientMessage{BaseMessage: BaseMessage{Id: 1}}, "AB12", roomEvent)

		resp := findResponse(drain(c))
		assert.Equal(t, http.StatusForbidden, resp.ResponseCode, "expected not-in-room for unattached channel")
	})

	t.Run("attached room receives the event", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		r := rs.loadRoom("AB12")
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
		c.addRoom(r)

		msg := &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Publish: &Publish{RoomId: "AB12", Content: "hi"}}
		c.routeToRoom(msg, "AB12", roomEvent)

		select {
		case got := <-r.clientMsgChan:
			assert.Equal(t, msg, got, "expected event on the room's message channel")
		default:
			t.Error("expected event to be forwarded to the room")
		}
	})

	t.Run("leave lane targets the leave channel", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		r := rs.loadRoom("AB12")
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
		c.addRoom(r)

		msg := &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Leave: &Leave{RoomId: "AB12"}}
		c.routeToRoom(msg, "AB12", roomLeave)

		select {
		case got := <-r.leaveChan:
			assert.Equal(t, msg, got, "expected event on the room's leave channel")
		default:
			t.Error("expected leave to be forwarded to the room")
		}
	})
}

func Test_dispatch(t *testing.T) {
	t.Run("oversized document is rejected before routing", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
		rs.RegisterClient(c)

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Document: &ShareDocument{
				RoomId:    "AB12",
				Name:      "big.bin",
				SizeBytes: rs.cfg.MaxDocumentBytes + 1,
				Content:   "x",
			},
			client: c,
		})

		resp := findResponse(drain(c))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.ResponseCode, "expected oversized document rejection")
	})

	t.Run("inbound traffic refreshes the presence binding", func(t *testing.T) {
		rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
		c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
		rs.RegisterClient(c)

		stale := time.Now().Add(-time.Hour)
		rs.presence.Touch(c.id, stale)

		c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, Heartbeat: &Heartbeat{}, client: c})

		b, ok := rs.presence.Binding(c.id)
		assert.True(t, ok, "expected binding to exist")
		assert.True(t, b.LastHeartbeat.After(stale), "expected inbound event to refresh the binding")
	})
}

func Test_heartbeat(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	r := rs.loadRoom("AB12")
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
	rs.RegisterClient(c)
	c.bindIdentity("u1", "alice")
	c.addRoom(r)

	c.heartbeat(&ClientMessage{BaseMessage: BaseMessage{Id: 7}, Heartbeat: &Heartbeat{}, client: c})

	select {
	case userId := <-r.touchChan:
		assert.Equal(t, "u1", userId, "expected member touch for the bound identity")
	default:
		t.Error("expected a touch request for the attached room")
	}

	var ack *ServerMessage
	for _, m := range drain(c) {
		if m.HeartbeatAck != nil {
			ack = m
		}
	}
	assert.NotNil(t, ack, "expected a heartbeat ack")
	assert.Equal(t, 7, ack.Id, "expected ack to correlate with the request id")
}

func Test_joinRoom_leavesPreviousRoom(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	old := rs.loadRoom("OLD1")
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
	c.addRoom(old)

	c.joinRoom(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "NEW1", UserId: "u1", DisplayName: "alice"},
		client:      c,
	})

	select {
	case leave := <-old.leaveChan:
		assert.NotNil(t, leave.Leave, "expected an implicit leave event")
		assert.Equal(t, "OLD1", leave.Leave.RoomId, "expected leave for the previous room")
	default:
		t.Error("expected an implicit leave when joining a different room")
	}

	select {
	case join := <-rs.joinChan:
		assert.Equal(t, "NEW1", join.Join.RoomId, "expected join to reach the relay")
	default:
		t.Error("expected join to be forwarded to the relay")
	}
}

func Test_identity(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

	userId, displayName := c.identity()
	assert.Empty(t, userId, "expected no identity before bind")
	assert.Empty(t, displayName, "expected no display name before bind")

	c.bindIdentity("u1", "alice")
	userId, displayName = c.identity()
	assert.Equal(t, "u1", userId, "expected bound user id")
	assert.Equal(t, "alice", displayName, "expected bound display name")
}

func Test_cleanup(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	r := rs.loadRoom("AB12")
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))
	rs.RegisterClient(c)
	c.addRoom(r)

	c.cleanup()

	_, bound := rs.presence.Binding(c.id)
	assert.False(t, bound, "expected presence binding to be released")
	assert.Nil(t, rs.clientById(c.id), "expected client to be deregistered")

	select {
	case got := <-r.detachChan:
		assert.Equal(t, c, got, "expected a detach request for the room")
	default:
		t.Error("expected cleanup to detach the channel from its room")
	}

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_stopClient(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	c := NewClient(newTestChannel(), rs, testutil.TestLogger(t))

	c.stopClient()
	c.stopClient() // second call is a no-op

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_Read_rejectsMalformedInput(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	_, ch := startTestClient(t, rs)

	ch.in <- []byte("{not json")
	resp := ch.waitFor(t, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected bad request for malformed json")

	// well-formed json with no event variant
	ch.sendJson(t, &ClientMessage{BaseMessage: BaseMessage{Id: 5}})
	resp = ch.waitFor(t, func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected bad request for empty event")
	assert.Equal(t, 5, resp.Id, "expected error to correlate with the request id")
}
