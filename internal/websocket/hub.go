package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/privacy"
	"github.com/raaihank/report-sentinel/internal/reactive"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second
	// Maximum message size allowed from peer
	defaultMaxMessageSize = 64 * 1024
	// Buffered outbound events per client
	sendBuffer = 256
)

var errTooManyFields = errors.New("too many monitored fields")

// Detector runs detection for live sessions
type Detector interface {
	privacy.Engine
	Debounce() time.Duration
}

// FeedbackSink accepts user feedback on detections
type FeedbackSink interface {
	RecordFeedback(kind feedback.Kind, text, detectionType, context string)
}

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastDetections  bool
	BroadcastSystem      bool
	BroadcastConnections bool
	Username             string
	Password             string
	MaxConnections       int
	MaxFields            int
	MaxMessageSize       int64
	ReadBufferSize       int
	WriteBufferSize      int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	WriteTimeout         time.Duration
	AllowedOrigins       []string
	// Clock drives session debouncing; nil uses the system clock
	Clock reactive.Clock
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages from the clients
	broadcast chan Event

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	config   HubConfig
	upgrader websocket.Upgrader
	detector Detector
	feedback FeedbackSink
	logger   *zap.Logger

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Statistics
	stats           HubStats
	activeSessions  int64
	totalDetections int64
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	ActiveSessions     int64     `json:"active_sessions"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	TotalDetections    int64     `json:"total_detections"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastDisconnectTime time.Time `json:"last_disconnect_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}

// NewHub creates a new WebSocket hub. sink may be nil when feedback is disabled.
func NewHub(config HubConfig, detector Detector, sink FeedbackSink, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaultPongWait
	}
	if config.PingInterval <= 0 || config.PingInterval >= config.PongTimeout {
		config.PingInterval = (config.PongTimeout * 9) / 10
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteWait
	}
	if config.Clock == nil {
		config.Clock = reactive.SystemClock{}
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		detector:   detector,
		feedback:   sink,
		logger:     logger.With(zap.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles client registration/unregistration and broadcasting until
// ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		client.closeSend()
	}
	h.stats.ActiveConnections = 0
	h.logger.Info("WebSocket hub stopped")
}

// registerClient registers a new client
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++
	h.stats.LastConnectionTime = time.Now()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", h.stats.ActiveConnections),
	)

	h.BroadcastEvent(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:    "connected",
			ClientID:  client.ID,
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Message:   fmt.Sprintf("Client %s connected", client.ID),
		},
	})
}

// unregisterClient unregisters a client
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.closeSend()
	h.stats.ActiveConnections--
	h.stats.LastDisconnectTime = time.Now()

	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", h.stats.ActiveConnections),
	)

	h.BroadcastEvent(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:   "disconnected",
			ClientID: client.ID,
			ClientIP: client.IP,
			Message:  fmt.Sprintf("Client %s disconnected", client.ID),
		},
	})
}

// broadcastEvent sends an event to all registered clients, dropping any
// client whose buffer is full
func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()

	for client := range h.clients {
		if client.send(event) {
			h.stats.TotalMessages++
			continue
		}
		h.logger.Warn("Client send channel full, closing connection",
			zap.String("client_id", client.ID),
		)
		delete(h.clients, client)
		client.closeSend()
		h.stats.ActiveConnections--
	}
}

// BroadcastEvent sends an event to all connected clients (only if enabled in config)
func (h *Hub) BroadcastEvent(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// BroadcastSystemStatus publishes a status snapshot to every client
func (h *Hub) BroadcastSystemStatus(status SystemStatusEvent) {
	h.BroadcastEvent(Event{Type: EventTypeSystemStatus, Timestamp: time.Now(), Data: status})
}

// shouldBroadcastEvent checks if an event type should be broadcast based on configuration
func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypePIIDetection:
		return h.config.BroadcastDetections
	case EventTypeSystemStatus:
		return h.config.BroadcastSystem
	case EventTypeConnection:
		return h.config.BroadcastConnections
	default:
		return false
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.config.Username == "" && h.config.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.config.Password)) == 1
	return userOK && passOK
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="report-sentinel"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.config.MaxConnections > 0 && h.ClientCount() >= h.config.MaxConnections {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	now := time.Now()
	client := &Client{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan Event, sendBuffer),
		ConnectedAt: now,
		IP:          getClientIP(r),
		UserAgent:   r.UserAgent(),
		lastPing:    now,
		sessions:    make(map[string]*reactive.Session),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start goroutines for handling the client
	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientWrite handles writing messages to the client
func (h *Hub) handleClientWrite(client *Client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead handles reading messages from the client
func (h *Hub) handleClientRead(client *Client) {
	defer func() {
		h.closeSessions(client)
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	conn := client.Conn
	conn.SetReadLimit(h.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		client.touch()
		conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}

		h.handleClientMessage(client, msg)
	}
}

// handleClientMessage handles messages received from clients
func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case MessageInput:
		var in InputMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil || in.Field == "" {
			h.sendError(client, "input requires a field", "")
			return
		}
		session, err := h.session(client, in.Field)
		if err != nil {
			h.sendError(client, err.Error(), in.Field)
			return
		}
		session.Input(in.Text)

	case MessageCloseField:
		var cf CloseFieldMessage
		if err := json.Unmarshal(msg.Data, &cf); err != nil || cf.Field == "" {
			h.sendError(client, "close_field requires a field", "")
			return
		}
		h.closeSession(client, cf.Field)

	case MessageFeedback:
		var fb FeedbackMessage
		if err := json.Unmarshal(msg.Data, &fb); err != nil {
			h.sendError(client, "malformed feedback", "")
			return
		}
		kind, err := feedback.ParseKind(fb.Kind)
		if err != nil {
			h.sendError(client, err.Error(), "")
			return
		}
		if h.feedback != nil {
			h.feedback.RecordFeedback(kind, fb.Text, fb.Type, fb.Context)
		}

	case MessagePing:
		client.send(Event{
			Type:      EventTypePong,
			Timestamp: time.Now(),
			Data:      map[string]string{"message": "pong"},
		})

	default:
		h.sendError(client, fmt.Sprintf("unknown message type %q", msg.Type), "")
	}
}

func (h *Hub) sendError(client *Client, message, field string) {
	client.send(Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		Data:      ErrorEvent{Message: message, Field: field},
	})
}

// session returns the field's session, creating it on first input
func (h *Hub) session(client *Client, field string) (*reactive.Session, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if s, ok := client.sessions[field]; ok {
		return s, nil
	}
	if h.config.MaxFields > 0 && len(client.sessions) >= h.config.MaxFields {
		return nil, errTooManyFields
	}

	s := reactive.NewSession(h.detector, h.publisher(client, field), reactive.Config{
		DebounceFunc: h.detector.Debounce,
		Clock:        h.config.Clock,
		Logger:       h.logger.With(zap.String("client_id", client.ID), zap.String("field", field)),
	})
	client.sessions[field] = s
	atomic.AddInt64(&h.activeSessions, 1)

	return s, nil
}

// publisher delivers a session's results to its client. It runs under the
// session lock, so everything it does is non-blocking.
func (h *Hub) publisher(client *Client, field string) reactive.PublishFunc {
	return func(u reactive.Update) {
		sent := client.send(Event{
			Type:      EventTypeDetectionResult,
			Timestamp: time.Now(),
			Data: DetectionResultEvent{
				Field:   field,
				Version: u.Version,
				Result:  u.Result,
			},
		})
		if !sent {
			h.logger.Debug("Dropping detection result for slow client",
				zap.String("client_id", client.ID),
				zap.String("field", field),
			)
		}

		if !u.Result.HasDetections() {
			return
		}

		atomic.AddInt64(&h.totalDetections, int64(len(u.Result.Detections)))

		h.BroadcastEvent(Event{
			Type:      EventTypePIIDetection,
			Timestamp: time.Now(),
			Data: PIIDetectionEvent{
				ClientID:        client.ID,
				Field:           field,
				Backend:         u.Result.Backend,
				Stats:           u.Result.Stats,
				TotalDetections: len(u.Result.Detections),
				Unavailable:     u.Result.Unavailable,
			},
		})
	}
}

func (h *Hub) closeSession(client *Client, field string) {
	client.mu.Lock()
	s, ok := client.sessions[field]
	delete(client.sessions, field)
	client.mu.Unlock()

	if ok {
		s.Close()
		atomic.AddInt64(&h.activeSessions, -1)
	}
}

// closeSessions closes every session of a departing client
func (h *Hub) closeSessions(client *Client) {
	client.mu.Lock()
	sessions := client.sessions
	client.sessions = make(map[string]*reactive.Session)
	client.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	atomic.AddInt64(&h.activeSessions, -int64(len(sessions)))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ActiveConnections = int64(len(h.clients))
	stats.ActiveSessions = atomic.LoadInt64(&h.activeSessions)
	stats.TotalDetections = atomic.LoadInt64(&h.totalDetections)
	return stats
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	return r.RemoteAddr
}
