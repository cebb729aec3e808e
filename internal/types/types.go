package types

import (
	"time"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindDocument MessageKind = "document"
)

// MemberRef is a user's presence record within one room. A user owns at
// most one MemberRef per room no matter how many channels they connect
// through.
type MemberRef struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsCreator   bool      `json:"is_creator"`
	LastSeen    time.Time `json:"last_seen"`
	JoinedAt    time.Time `json:"joined_at"`
}

type Message struct {
	Id         string           `json:"id"`
	RoomId     string           `json:"room_id"`
	SenderId   string           `json:"sender_id"`
	SenderName string           `json:"sender_name"`
	Kind       MessageKind      `json:"kind"`
	Text       string           `json:"text,omitempty"`
	Document   *DocumentPayload `json:"document,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// DocumentPayload carries a shared file inline. Content is base64 encoded
// and SizeBytes is the decoded length.
type DocumentPayload struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Content   string `json:"content"`
}

type RoomInfo struct {
	Id        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	IsCreator bool        `json:"is_creator"`
	Members   []MemberRef `json:"members"`
}
