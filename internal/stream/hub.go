package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	"github.com/Checker-Finance/watttime-adapter/pkg/eventbus"
	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Frame is the JSON message pushed to stream subscribers.
type Frame struct {
	Type   string      `json:"type"`
	Region string      `json:"region"`
	Data   interface{} `json:"data"`
}

// Frame types emitted by the hub.
const (
	FrameSignalUpdated     = "signal.updated"
	FrameForecastPublished = "forecast.published"
)

// Hub fans live emissions events out to websocket subscribers. It listens on
// the in-process event bus, so producers stay unaware of attached clients.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	done chan struct{}
}

type client struct {
	conn   *websocket.Conn
	region string
	send   chan []byte
}

// NewHub creates a Hub with no connected clients.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Attach subscribes the hub to signal and forecast events on the bus.
func (h *Hub) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(model.SignalReading{}, func(event interface{}) {
		if reading, ok := event.(model.SignalReading); ok {
			h.Broadcast(Frame{Type: FrameSignalUpdated, Region: reading.Region, Data: reading})
		}
	})
	bus.Subscribe(model.ForecastCurve{}, func(event interface{}) {
		if curve, ok := event.(model.ForecastCurve); ok {
			h.Broadcast(Frame{Type: FrameForecastPublished, Region: curve.Region, Data: curve})
		}
	})
}

// HandleSignals upgrades the request and registers the connection. Clients
// may pass ?region=X to receive only that region's frames.
func (h *Hub) HandleSignals(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("stream.upgrade_failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:   conn,
		region: r.URL.Query().Get("region"),
		send:   make(chan []byte, sendBuffer),
	}
	h.addClient(cl)

	h.logger.Info("stream.client_connected",
		zap.String("region", cl.region),
		zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(cl)
	go h.readPump(cl)
}

// Broadcast pushes a frame to every subscriber whose filter matches. Clients
// that cannot keep up have frames dropped rather than stalling the hub.
func (h *Hub) Broadcast(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("stream.marshal_failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if cl.region != "" && cl.region != frame.Region {
			continue
		}
		select {
		case cl.send <- payload:
		default:
			h.logger.Warn("stream.client_backlogged",
				zap.String("region", cl.region),
				zap.String("type", frame.Type))
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers and stops the pumps.
func (h *Hub) Close() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
		cl.conn.Close()
	}
	metrics.SetStreamClients(0)
}

func (h *Hub) addClient(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
	metrics.SetStreamClients(len(h.clients))
}

func (h *Hub) removeClient(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	metrics.SetStreamClients(len(h.clients))
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.done:
			return
		}
	}
}

// readPump drains inbound frames to keep pong handling alive. The stream is
// one-way; anything the client sends is discarded.
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.removeClient(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("stream.client_read_failed", zap.Error(err))
			}
			return
		}
	}
}
