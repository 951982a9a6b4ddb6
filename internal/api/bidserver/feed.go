package bidserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
)

// Feed pushes every saved document change to connected websocket clients.
type Feed struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	last  []byte
}

func newFeed(logger *zap.Logger) *Feed {
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Publish fans the document snapshot out to every connected client. Clients
// that fail to take the write are dropped.
func (f *Feed) Publish(doc *auction.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		f.logger.Error("feed snapshot not serialisable", zap.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = payload
	for conn := range f.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(f.conns, conn)
		}
	}
}

// handleFeed upgrades the connection, replays the latest snapshot and keeps
// the client registered until it disconnects.
func (f *Feed) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("feed upgrade failed", zap.Error(err))
		return
	}

	f.mu.Lock()
	f.conns[conn] = struct{}{}
	last := f.last
	f.mu.Unlock()

	if last != nil {
		if err := conn.WriteMessage(websocket.TextMessage, last); err != nil {
			f.remove(conn)
			return
		}
	}

	// Reader loop only detects the close; clients never send data.
	go func() {
		defer f.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) remove(conn *websocket.Conn) {
	conn.Close()
	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		conn.Close()
		delete(f.conns, conn)
	}
}
