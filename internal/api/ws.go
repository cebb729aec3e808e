package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// wsChannel adapts a gorilla websocket connection to the core's Channel
// interface. Keepalive pings, deadlines and read limits are transport
// concerns and live here, not in the core.
type wsChannel struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	pingStop  chan struct{}
	closeOnce sync.Once
}

func newWsChannel(conn *websocket.Conn, readLimit int64) *wsChannel {
	ch := &wsChannel{
		conn:     conn,
		pingStop: make(chan struct{}),
	}

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go ch.keepalive()
	return ch
}

func (ch *wsChannel) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ch.writeLock.Lock()
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := ch.conn.WriteMessage(websocket.PingMessage, nil)
			ch.writeLock.Unlock()
			if err != nil {
				return
			}
		case <-ch.pingStop:
			return
		}
	}
}

func (ch *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := ch.conn.ReadMessage()
	return data, err
}

func (ch *wsChannel) WriteMessage(data []byte) error {
	ch.writeLock.Lock()
	defer ch.writeLock.Unlock()

	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

func (ch *wsChannel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.pingStop)
	})
	return ch.conn.Close()
}
