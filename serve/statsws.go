package serve

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// StatsUpdater pushes the pipeline status as JSON to every connected
// websocket client once per period, until Close.
type StatsUpdater struct {
	Source StatusSource
	Period time.Duration

	upgrader websocket.Upgrader
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

func NewStatsUpdater(src StatusSource, period time.Duration) *StatsUpdater {
	if period <= 0 {
		period = time.Second
	}
	return &StatsUpdater{
		Source: src,
		Period: period,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

func (m *StatsUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		http.Error(w, "stopped", http.StatusServiceUnavailable)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.wg.Done()
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for stats stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *StatsUpdater) serve(ws *websocket.Conn) {
	defer m.wg.Done()
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to stats socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from stats socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	statsTicker := time.NewTicker(m.Period)
	defer statsTicker.Stop()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-m.done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"))
			return
		case <-gone:
			return
		case <-statsTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(m.Source.Status()); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// Close disconnects all clients and waits for their goroutines.
func (m *StatsUpdater) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
