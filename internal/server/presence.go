package server

import (
	"sync"
	"time"
)

// ChannelBinding records the identity and room a connected channel
// currently speaks for. UserId and RoomId are empty until the channel's
// first join.
type ChannelBinding struct {
	ChannelId     string
	UserId        string
	RoomId        string
	LastHeartbeat time.Time
}

// PresenceTable tracks every connected channel's binding. It is shared
// by client pumps, room goroutines and the reconciliation sweep, so all
// access is behind a single mutex.
type PresenceTable struct {
	mu       sync.Mutex
	bindings map[string]*ChannelBinding
}

func NewPresenceTable() *PresenceTable {
	return &PresenceTable{
		bindings: make(map[string]*ChannelBinding),
	}
}

// Bind registers a channel on first contact with no identity claim.
func (pt *PresenceTable) Bind(channelId string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.bindings[channelId]; ok {
		return
	}

	pt.bindings[channelId] = &ChannelBinding{
		ChannelId:     channelId,
		LastHeartbeat: time.Now(),
	}
}

// Claim records the identity and room a channel speaks for. A channel
// claims at most one room; a new claim replaces the previous one.
func (pt *PresenceTable) Claim(channelId, userId, roomId string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	b, ok := pt.bindings[channelId]
	if !ok {
		b = &ChannelBinding{ChannelId: channelId}
		pt.bindings[channelId] = b
	}

	b.UserId = userId
	b.RoomId = roomId
	b.LastHeartbeat = time.Now()
}

// ReleaseClaim clears a channel's room claim but keeps the binding
// alive, e.g. after an explicit leave.
func (pt *PresenceTable) ReleaseClaim(channelId string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if b, ok := pt.bindings[channelId]; ok {
		b.RoomId = ""
	}
}

// Release destroys a channel's binding on disconnect.
func (pt *PresenceTable) Release(channelId string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	delete(pt.bindings, channelId)
}

// Touch refreshes a channel's heartbeat timestamp and reports whether
// the channel is known.
func (pt *PresenceTable) Touch(channelId string, t time.Time) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	b, ok := pt.bindings[channelId]
	if !ok {
		return false
	}

	b.LastHeartbeat = t
	return true
}

// Binding returns a copy of a channel's binding.
func (pt *PresenceTable) Binding(channelId string) (ChannelBinding, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	b, ok := pt.bindings[channelId]
	if !ok {
		return ChannelBinding{}, false
	}

	return *b, true
}

// Stale returns copies of all bindings whose last heartbeat is before
// cutoff.
func (pt *PresenceTable) Stale(cutoff time.Time) []ChannelBinding {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var stale []ChannelBinding
	for _, b := range pt.bindings {
		if b.LastHeartbeat.Before(cutoff) {
			stale = append(stale, *b)
		}
	}

	return stale
}

// LiveChannels counts bindings claiming (userId, roomId) whose last
// heartbeat is at or after cutoff.
func (pt *PresenceTable) LiveChannels(userId, roomId string, cutoff time.Time) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var n int
	for _, b := range pt.bindings {
		if b.UserId == userId && b.RoomId == roomId && !b.LastHeartbeat.Before(cutoff) {
			n++
		}
	}

	return n
}

// Len reports the number of live bindings.
func (pt *PresenceTable) Len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	return len(pt.bindings)
}
