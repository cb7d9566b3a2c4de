package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1024
	hubShardCount  = 32
	sendBufferSize = 16
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is every frame the server sends on a proctoring stream.
type StreamMessage struct {
	Type   string       `json:"type"` // ack | error | rate_limited | session_ended
	Result *EventResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ProctoringClient is one exam-environment connection streaming events for a session.
type ProctoringClient struct {
	Hub       *ProctoringHub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
	Limiter   *rate.Limiter
	closeOnce sync.Once
}

type hubShard struct {
	mu      sync.RWMutex
	clients map[string]map[*ProctoringClient]struct{}
}

// ProctoringHub tracks live proctoring streams per session so a session that ends can tell its clients.
type ProctoringHub struct {
	shards          [hubShardCount]*hubShard
	Monitor         *AntiFraudService
	eventsPerSecond float64
}

func NewProctoringHub(monitor *AntiFraudService, eventsPerSecond float64) *ProctoringHub {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 5
	}
	h := &ProctoringHub{Monitor: monitor, eventsPerSecond: eventsPerSecond}
	for i := range h.shards {
		h.shards[i] = &hubShard{clients: make(map[string]map[*ProctoringClient]struct{})}
	}
	return h
}

func (h *ProctoringHub) shard(sessionID string) *hubShard {
	f := fnv.New32a()
	f.Write([]byte(sessionID))
	return h.shards[f.Sum32()%hubShardCount]
}

func (h *ProctoringHub) register(c *ProctoringClient) {
	s := h.shard(c.SessionID)
	s.mu.Lock()
	set, ok := s.clients[c.SessionID]
	if !ok {
		set = make(map[*ProctoringClient]struct{})
		s.clients[c.SessionID] = set
	}
	set[c] = struct{}{}
	s.mu.Unlock()
}

func (h *ProctoringHub) unregister(c *ProctoringClient) {
	s := h.shard(c.SessionID)
	s.mu.Lock()
	if set, ok := s.clients[c.SessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.clients, c.SessionID)
		}
	}
	s.mu.Unlock()
	c.close()
}

// Connected reports how many streams are open for a session.
func (h *ProctoringHub) Connected(sessionID string) int {
	s := h.shard(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[sessionID])
}

// Notify pushes msg to every stream of the session, dropping it for clients whose buffer is full.
func (h *ProctoringHub) Notify(sessionID string, msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s := h.shard(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients[sessionID] {
		select {
		case c.Send <- data:
		default:
		}
	}
}

// Serve runs one connection until it closes. It blocks.
func (h *ProctoringHub) Serve(ctx context.Context, conn *websocket.Conn, sessionID string) {
	c := &ProctoringClient{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		SessionID: sessionID,
		Limiter:   rate.NewLimiter(rate.Limit(h.eventsPerSecond), int(h.eventsPerSecond*2)+1),
	}
	h.register(c)
	go c.writePump()
	c.readPump(ctx)
}

func (c *ProctoringClient) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *ProctoringClient) push(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *ProctoringClient) readPump(ctx context.Context) {
	defer c.Hub.unregister(c)

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Session(c.SessionID).Warn("Proctoring stream closed unexpectedly", zap.Error(err))
			}
			return
		}

		// 限流：超出速率的帧直接丢弃
		if !c.Limiter.Allow() {
			c.push(StreamMessage{Type: "rate_limited"})
			continue
		}

		var ev model.ProctoringEvent
		if err := json.Unmarshal(frame, &ev); err != nil || ev.Type == "" {
			c.push(StreamMessage{Type: "error", Error: "malformed proctoring event"})
			continue
		}

		res, err := c.Hub.Monitor.ApplyEvent(ctx, c.SessionID, ev)
		switch {
		case errors.Is(err, util.ErrStaleEvent):
			c.Hub.Notify(c.SessionID, StreamMessage{Type: "session_ended", Result: res})
			return
		case err != nil:
			c.push(StreamMessage{Type: "error", Error: err.Error()})
			if errors.Is(err, util.ErrSessionNotFound) {
				return
			}
			continue
		}

		if res.Outcome == model.OutcomeSuspended {
			c.Hub.Notify(c.SessionID, StreamMessage{Type: "session_ended", Result: res})
			return
		}
		c.push(StreamMessage{Type: "ack", Result: res})
	}
}

func (c *ProctoringClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
