package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/rs/zerolog/log"
)

// MessageHandler receives what clients send and learns about disconnects.
type MessageHandler interface {
	HandleMessage(c *Connection, message []byte)
	HandleClose(c *Connection)
}

// ConnectionManager manages WebSocket connections per session and delivers
// session events to them. It implements the orchestrator's Emitter.
type ConnectionManager struct {
	// Connection pools organized by session code
	sessionConnections map[string]map[*Connection]bool
	byID               map[string]*Connection
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	broadcastCh chan BroadcastMessage
	dropped     atomic.Int64
}

// Connection is one client socket bound to a session.
type Connection struct {
	ID          string
	SessionCode string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager

	ConnectedAt time.Time
	lastSeen    atomic.Int64
}

// LastSeen is the time of the last frame or pong read from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a queued delivery. An empty ConnID targets every
// connection of the session.
type BroadcastMessage struct {
	SessionCode string
	ConnID      string
	Event       *events.Event
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// CORS is enforced by the HTTP server in front of the upgrade.
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		byID:               make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetHandler installs the handler for client messages. Call it before
// accepting connections.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start processes queued deliveries until ctx is cancelled. A single
// goroutine keeps per-connection event order.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades the request and binds the socket to sessionCode.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionCode string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		SessionCode: sessionCode,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	connection.touch()

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("conn_id", connection.ID).
		Str("session_code", sessionCode).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionCode] == nil {
		cm.sessionConnections[conn.SessionCode] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionCode][conn] = true
	cm.byID[conn.ID] = conn

	log.Debug().
		Str("conn_id", conn.ID).
		Str("session_code", conn.SessionCode).
		Int("session_connections", len(cm.sessionConnections[conn.SessionCode])).
		Msg("connection registered")
}

// unregisterConnection removes conn once and notifies the handler.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionCode]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	delete(cm.byID, conn.ID)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionCode)
	}
	cm.mu.Unlock()

	log.Info().
		Str("conn_id", conn.ID).
		Str("session_code", conn.SessionCode).
		Msg("connection unregistered")

	if cm.handler != nil {
		go cm.handler.HandleClose(conn)
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, c := range cm.byID {
		all = append(all, c)
	}
	cm.mu.RUnlock()

	for _, c := range all {
		cm.unregisterConnection(c)
	}
}

// Broadcast queues event for every connection of sessionCode.
func (cm *ConnectionManager) Broadcast(sessionCode string, event *events.Event) {
	cm.enqueue(BroadcastMessage{SessionCode: sessionCode, Event: event})
}

// SendTo queues event for a single connection.
func (cm *ConnectionManager) SendTo(sessionCode, connID string, event *events.Event) {
	if connID == "" {
		return
	}
	cm.enqueue(BroadcastMessage{SessionCode: sessionCode, ConnID: connID, Event: event})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		cm.dropped.Add(1)
		log.Warn().
			Str("session_code", message.SessionCode).
			Str("conn_id", message.ConnID).
			Str("event_type", string(message.Event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0

	// Sends happen under the read lock so a concurrent unregister cannot
	// close a channel mid-send.
	cm.mu.RLock()
	for conn := range cm.sessionConnections[message.SessionCode] {
		if message.ConnID != "" && conn.ID != message.ConnID {
			continue
		}
		select {
		case conn.Send <- eventData:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("conn_id", conn.ID).
			Str("session_code", conn.SessionCode).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		_ = conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_code", message.SessionCode).
		Int("connections", delivered).
		Msg("event delivered")
}

type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
	DroppedMessages    int64          `json:"dropped_messages"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
		DroppedMessages:    cm.dropped.Load(),
	}
	for code, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[code] = len(connections)
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}

		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, message)
		}
	}
}
