package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/droproom/droproom/internal/server"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const roomCodeLength = 6

func (a *App) writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			a.log.Println("write json:", err)
		}
	}
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRoomCode mints a short, shareable room code. Room ids stay
// caller-supplied opaque strings to the core; this endpoint only helps
// clients that want a server-generated one.
func (a *App) createRoomCode(w http.ResponseWriter, r *http.Request) {
	id, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code := strings.ToUpper(id)
	if len(code) > roomCodeLength {
		code = code[:roomCodeLength]
	}

	a.writeJson(w, http.StatusCreated, map[string]string{"room_id": code})
}

func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(newWsChannel(conn, a.readLimit), a.relay, a.log)

	a.relay.RegisterClient(client)
	go client.Write()
	go client.Read()
}
