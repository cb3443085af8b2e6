// Package fabric provides WebSocket spectator connections for the hub.
package fabric

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Build a WebSocket upgrader with origin validation. In production
// (ENGINE_ENV=production), only origins listed in ENGINE_ALLOWED_ORIGINS
// are accepted. In dev/staging, all origins are allowed with a warning.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     buildCheckOrigin(),
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("ENGINE_ENV")
	allowedRaw := os.Getenv("ENGINE_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		log.Printf("[WebSocket] origin allowlist active (%d origins)", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			log.Printf("[WebSocket] rejected connection from origin: %s", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		log.Println("[WebSocket] ENGINE_ALLOWED_ORIGINS not set in production — allowing all origins (insecure)")
	}
	return func(r *http.Request) bool {
		return true
	}
}

// HandleSpectatorStream upgrades HTTP to WebSocket and registers the
// connection as a spectator of the shard named by the "shard_id" query
// parameter.
func (h *Hub) HandleSpectatorStream(w http.ResponseWriter, r *http.Request) {
	shardID := r.URL.Query().Get("shard_id")
	if shardID == "" {
		http.Error(w, "shard_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	spectator, err := h.RegisterSpectator(shardID, func(payload []byte) error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, payload)
	})
	if err != nil {
		log.Printf("failed to register spectator: %v", err)
		conn.Close()
		return
	}

	log.Printf("spectator connected: %s (shard=%s)", spectator.ID, shardID)

	go h.handleSpectatorConnection(spectator, conn)
}

// handleSpectatorConnection keeps the connection alive and drains the read
// side until the spectator disconnects. Spectators are read-only: nothing
// they send is routed anywhere, but the connection must still be read to
// observe control frames (ping/pong, close).
func (h *Hub) handleSpectatorConnection(spectator *SpectatorInfo, conn *websocket.Conn) {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = 30 * time.Second
		writeWait  = 10 * time.Second
	)

	defer func() {
		h.UnregisterSpectator(spectator.ID)
		conn.Close()
		log.Printf("spectator disconnected: %s", spectator.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Printf("ping failed for spectator %s: %v", spectator.ID, err)
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
