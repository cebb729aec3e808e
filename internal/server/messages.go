package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/droproom/droproom/internal/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the closed set of events a channel may send. Exactly
// one variant must be set.
type ClientMessage struct {
	BaseMessage
	Join      *Join          `json:"join,omitempty"`
	Leave     *Leave         `json:"leave,omitempty"`
	Publish   *Publish       `json:"publish,omitempty"`
	Document  *ShareDocument `json:"document,omitempty"`
	End       *End           `json:"end,omitempty"`
	Heartbeat *Heartbeat     `json:"heartbeat,omitempty"`
	Presence  *PresenceReq   `json:"presence,omitempty"`

	client *Client
}

type Join struct {
	RoomId      string `json:"room_id" validate:"required,max=64"`
	UserId      string `json:"user_id" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=64"`
}

type Leave struct {
	RoomId string `json:"room_id" validate:"required,max=64"`
}

type Publish struct {
	RoomId  string `json:"room_id" validate:"required,max=64"`
	Content string `json:"content" validate:"required,max=4096"`
}

type ShareDocument struct {
	RoomId    string `json:"room_id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=255"`
	MimeType  string `json:"mime_type" validate:"omitempty,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"required,gt=0"`
	Content   string `json:"content" validate:"required"`
}

type End struct {
	RoomId string `json:"room_id" validate:"required,max=64"`
}

type Heartbeat struct{}

type PresenceReq struct {
	RoomId string `json:"room_id" validate:"required,max=64"`
}

// payload returns the single set variant, or false if the message carries
// zero or more than one.
func (m *ClientMessage) payload() (any, bool) {
	var payload any
	var count int
	if m.Join != nil {
		payload, count = m.Join, count+1
	}
	if m.Leave != nil {
		payload, count = m.Leave, count+1
	}
	if m.Publish != nil {
		payload, count = m.Publish, count+1
	}
	if m.Document != nil {
		payload, count = m.Document, count+1
	}
	if m.End != nil {
		payload, count = m.End, count+1
	}
	if m.Heartbeat != nil {
		payload, count = m.Heartbeat, count+1
	}
	if m.Presence != nil {
		payload, count = m.Presence, count+1
	}

	return payload, count == 1
}

func (m *ClientMessage) validateEvent() error {
	payload, ok := m.payload()
	if !ok {
		return fmt.Errorf("message must carry exactly one event")
	}

	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}

	return nil
}

type ServerMessage struct {
	BaseMessage
	Response     *Response       `json:"response,omitempty"`
	Message      *types.Message  `json:"message,omitempty"`
	Echo         bool            `json:"echo,omitempty"`
	History      *History        `json:"history,omitempty"`
	Presence     *PresenceUpdate `json:"presence,omitempty"`
	RoomEnded    *RoomEnded      `json:"room_ended,omitempty"`
	HeartbeatAck *HeartbeatAck   `json:"heartbeat_ack,omitempty"`
	SkipClient   *Client         `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type History struct {
	RoomId   string          `json:"room_id"`
	Messages []types.Message `json:"messages"`
}

type PresenceUpdate struct {
	RoomId  string            `json:"room_id"`
	Members []types.MemberRef `json:"members"`
}

type RoomEnded struct {
	RoomId string `json:"room_id"`
}

type HeartbeatAck struct{}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func HeartbeatAckMsg(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		HeartbeatAck: &HeartbeatAck{},
	}
}

func ErrInvalidRequest(id int, detail string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        detail,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrNotInRoom(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not in room",
		},
	}
}

func ErrNotCreator(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "only the room creator can end the room",
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrPayloadTooLarge(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusRequestEntityTooLarge,
			Error:        "document exceeds size limit",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
