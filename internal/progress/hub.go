package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Subscriber is one WebSocket connection following a single batch.
type Subscriber struct {
	ID      string
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
	mu      sync.Mutex
}

func (s *Subscriber) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteMessage(messageType, data)
}

type batchMessage struct {
	batchID string
	data    []byte
}

// Hub routes progress events to the WebSocket subscribers of their batch.
type Hub struct {
	subscribers map[string]*Subscriber
	batches     map[string]map[string]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan batchMessage
	stopped    chan struct{}

	mu     sync.RWMutex
	logger logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		batches:     make(map[string]map[string]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan batchMessage, 256),
		stopped:     make(chan struct{}),
		logger:      log.WithFields(map[string]interface{}{"component": "progress-hub"}),
	}
}

// Run is the hub's main loop; it returns when ctx is done and closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, sub := range h.subscribers {
				close(sub.Send)
				delete(h.subscribers, id)
			}
			h.batches = make(map[string]map[string]bool)
			h.mu.Unlock()
			metrics.ProgressSubscribers.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			if h.batches[sub.BatchID] == nil {
				h.batches[sub.BatchID] = make(map[string]bool)
			}
			h.batches[sub.BatchID][sub.ID] = true
			h.mu.Unlock()
			metrics.ProgressSubscribers.Inc()
			h.logger.Debug("subscriber registered", map[string]interface{}{"subscriber": sub.ID, "batchId": sub.BatchID})

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Subscriber
			for id := range h.batches[msg.batchID] {
				sub := h.subscribers[id]
				if sub == nil {
					continue
				}
				select {
				case sub.Send <- msg.data:
				default:
					slow = append(slow, sub)
				}
			}
			h.mu.RUnlock()
			for _, sub := range slow {
				h.logger.Warn("subscriber too slow, dropping", map[string]interface{}{"subscriber": sub.ID})
				h.remove(sub)
			}
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	if ids := h.batches[sub.BatchID]; ids != nil {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(h.batches, sub.BatchID)
		}
	}
	close(sub.Send)
	metrics.ProgressSubscribers.Dec()
	h.logger.Debug("subscriber unregistered", map[string]interface{}{"subscriber": sub.ID})
}

// Report implements Reporter. It never blocks on a full broadcast queue.
func (h *Hub) Report(_ context.Context, event models.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- batchMessage{batchID: event.BatchID, data: data}:
	default:
		h.logger.Warn("progress broadcast queue full", map[string]interface{}{"batchId": event.BatchID})
	}
}

// SubscriberCount returns the number of subscribers of batchID.
func (h *Hub) SubscriberCount(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.batches[batchID])
}

// Serve attaches ws to batchID and pumps events to it until either side closes. It blocks.
func (h *Hub) Serve(ws *websocket.Conn, batchID string) {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		BatchID: batchID,
		Conn:    ws,
		Send:    make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- sub:
	case <-h.stopped:
		_ = ws.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readPump(sub)
	}()
	h.writePump(sub, done)
}

// readPump only handles control frames; subscribers send nothing meaningful.
func (h *Hub) readPump(sub *Subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.stopped:
		}
	}()

	_ = sub.Conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.Conn.SetPongHandler(func(string) error {
		return sub.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", map[string]interface{}{"subscriber": sub.ID, "error": err.Error()})
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *Subscriber, readerDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			if !ok {
				_ = sub.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}
