package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/report-sentinel/internal/privacy"
	"github.com/raaihank/report-sentinel/internal/reactive"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetectionResult carries a published result for one field
	EventTypeDetectionResult EventType = "detection_result"
	// EventTypePIIDetection is a counts-only summary broadcast to every client
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	EventTypePong       EventType = "pong"
	EventTypeError      EventType = "error"
)

// Client message types
const (
	MessageInput      = "input"
	MessageCloseField = "close_field"
	MessageFeedback   = "feedback"
	MessagePing       = "ping"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DetectionResultEvent is sent to the client that owns the field
type DetectionResultEvent struct {
	Field   string                  `json:"field"`
	Version uint64                  `json:"version"`
	Result  privacy.DetectionResult `json:"result"`
}

// PIIDetectionEvent summarises a detection without any of the matched text
type PIIDetectionEvent struct {
	ClientID        string         `json:"client_id"`
	Field           string         `json:"field"`
	Backend         string         `json:"backend"`
	Stats           map[string]int `json:"stats"`
	TotalDetections int            `json:"total_detections"`
	Unavailable     bool           `json:"unavailable,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	Backend          string `json:"backend"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
	ActiveSessions   int64  `json:"active_sessions"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorEvent reports a rejected client message
type ErrorEvent struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InputMessage is the latest text of a monitored field
type InputMessage struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// CloseFieldMessage stops monitoring a field
type CloseFieldMessage struct {
	Field string `json:"field"`
}

// FeedbackMessage reports a wrong or missed detection
type FeedbackMessage struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu       sync.Mutex
	closed   bool
	lastPing time.Time
	sessions map[string]*reactive.Session
}

// send queues an event without blocking. It reports false if the client
// is gone or its buffer is full.
func (c *Client) send(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- event:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound channel once
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastPing returns when the client last answered a ping
func (c *Client) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}
