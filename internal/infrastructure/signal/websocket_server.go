package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/pkg/config"
	"callpulse/pkg/tracing"
	"callpulse/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message types exchanged over the socket.
const (
	MessageMetricsUpdate = "metrics_update"
	MessageQualityUpdate = "quality_update"
	MessageAlert         = "alert"
	MessageQualityChange = "quality_change"
	MessageError         = "error"
)

const sendBufferSize = 32

// InboundMessage is what clients send.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is what the server pushes.
type OutboundMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"session_id"`
	Payload   interface{}      `json:"payload,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type client struct {
	conn      *websocket.Conn
	sessionID domain.SessionID
	send      chan []byte
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketServer streams engine output to clients watching a session and
// accepts metric samples from them.
type WebSocketServer struct {
	sessions ports.SessionService
	upgrader websocket.Upgrader

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64
	messageRate    rate.Limit
	messageBurst   int
	maxConnections int

	clients map[domain.SessionID]map[*client]struct{}
	mu      sync.RWMutex
	active  atomic.Int32

	logger *zap.SugaredLogger
}

func NewWebSocketServer(sessions ports.SessionService, cfg *config.Config, logger *zap.SugaredLogger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &WebSocketServer{
		sessions:       sessions,
		pingInterval:   cfg.Signal.PingInterval,
		pongTimeout:    cfg.Signal.PongTimeout,
		writeTimeout:   cfg.Signal.WriteTimeout,
		maxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		messageRate:    rate.Inf,
		clients:        make(map[domain.SessionID]map[*client]struct{}),
		logger:         logger,
	}
	if cfg.RateLimiting.Enabled {
		s.messageRate = rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
		s.messageBurst = cfg.RateLimiting.WebSocket.Burst
		s.maxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Signal.AllowedOrigins),
	}
	return s
}

// originChecker allows requests without an Origin header, and any origin
// when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
			if err == nil && strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.URL.Query().Get("session_id"))
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := s.sessions.GetSession(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if s.maxConnections > 0 && int(s.active.Load()) >= s.maxConnections {
		http.Error(w, "too many websocket connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	c := &client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
		limiter:   rate.NewLimiter(s.messageRate, s.messageBurst),
		done:      make(chan struct{}),
	}
	s.register(c)
	defer s.unregister(c)

	unsubscribe := s.subscribe(c, engine)
	defer unsubscribe()

	s.logger.Infow("client connected via WebSocket", "session_id", sessionID)

	// Send the current state so a late joiner does not wait for the next sample.
	if engine.Score() != nil {
		s.enqueue(c, MessageQualityUpdate, engine.Report())
	}

	go s.writePump(c)
	s.readPump(r.Context(), c, engine)

	s.logger.Infow("client disconnected", "session_id", sessionID)
}

func (s *WebSocketServer) subscribe(c *client, engine ports.QualityEngine) func() {
	unsubs := []func(){
		engine.OnUpdate(func(report domain.QualityReport) {
			s.enqueue(c, MessageQualityUpdate, report)
		}),
		engine.OnAlert(func(alert domain.Alert) {
			s.enqueue(c, MessageAlert, alert)
		}),
		engine.OnQualityChange(func(change domain.QualityChange) {
			s.enqueue(c, MessageQualityChange, change)
		}),
		engine.OnError(func(err error) {
			s.enqueue(c, MessageError, errorPayload{Message: err.Error()})
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (s *WebSocketServer) readPump(ctx context.Context, c *client, engine ports.QualityEngine) {
	defer c.close()

	if s.maxMessageSize > 0 {
		c.conn.SetReadLimit(s.maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message", "session_id", c.sessionID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if !c.limiter.Allow() {
			s.enqueue(c, MessageError, errorPayload{Message: "rate limit exceeded"})
			continue
		}

		if err := s.handle(ctx, c.sessionID, engine, data); err != nil {
			s.logger.Debugw("error handling message", "session_id", c.sessionID, "error", err)
			s.enqueue(c, MessageError, errorPayload{Message: err.Error()})
		}
	}
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing message", "session_id", c.sessionID, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "session_id", c.sessionID, "error", err)
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue never blocks an engine listener; a slow client loses messages.
func (s *WebSocketServer) enqueue(c *client, msgType string, payload interface{}) {
	data, err := json.Marshal(OutboundMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		s.logger.Warnw("failed to marshal outbound message", "type", msgType, "error", err)
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		s.logger.Warnw("dropping message for slow client",
			"session_id", c.sessionID,
			"type", msgType,
		)
	}
}

// HandleMessage applies one inbound message to the session's engine.
func (s *WebSocketServer) HandleMessage(ctx context.Context, sessionID domain.SessionID, message []byte) error {
	engine, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return err
	}
	return s.handle(ctx, sessionID, engine, message)
}

func (s *WebSocketServer) handle(ctx context.Context, sessionID domain.SessionID, engine ports.QualityEngine, message []byte) error {
	var msg InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return errors.New("message type is required")
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(sessionID))
	defer span.End()

	switch msg.Type {
	case MessageMetricsUpdate:
		var sample domain.MetricSample
		if err := json.Unmarshal(msg.Payload, &sample); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidSample, err)
		}
		if _, err := engine.Update(ctx, &sample); err != nil {
			tracing.RecordError(ctx, err)
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// HandleDisconnect closes every client watching the session.
func (s *WebSocketServer) HandleDisconnect(ctx context.Context, sessionID domain.SessionID) error {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients[sessionID]))
	for c := range s.clients[sessionID] {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

// Detach closes a removed session's clients. It matches services.SessionHook.
func (s *WebSocketServer) Detach(id domain.SessionID, _ ports.QualityEngine) {
	s.HandleDisconnect(context.Background(), id)
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.sessionID] == nil {
		s.clients[c.sessionID] = make(map[*client]struct{})
	}
	s.clients[c.sessionID][c] = struct{}{}
	s.active.Inc()
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients[c.sessionID], c)
	if len(s.clients[c.sessionID]) == 0 {
		delete(s.clients, c.sessionID)
	}
	s.active.Dec()
}

// ConnectionCount reports open client connections.
func (s *WebSocketServer) ConnectionCount() int {
	return int(s.active.Load())
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)
