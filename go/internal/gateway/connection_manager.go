package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ConnectionHandler receives client commands and disconnects
type ConnectionHandler interface {
	HandleClientMessage(c *Connection, msg ClientMessage)
	HandleDisconnect(c *Connection)
}

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ConnectionHandler

	broadcastCh chan BroadcastMessage

	// pendingPlayback holds the newest undelivered playback event per room.
	pendingMu       sync.Mutex
	pendingPlayback map[string]*RoomEvent
	playbackReady   chan struct{}
}

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID      string
	User    models.UserRef
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
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

// BroadcastMessage represents an event to fan out to a room
type BroadcastMessage struct {
	RoomID string
	Event  *RoomEvent
	// UserID restricts delivery to one user's connections when set
	UserID string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler ConnectionHandler) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		handler:     handler,
		broadcastCh:     make(chan BroadcastMessage, 1000),
		pendingPlayback: make(map[string]*RoomEvent),
		playbackReady:   make(chan struct{}, 1),
	}
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		case <-cm.playbackReady:
			cm.flushPlayback()
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, user models.UserRef, roomID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		User:        user,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", user.ID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Int("total_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection; only the first call has effect
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.User.ID).
		Str("room_id", conn.RoomID).
		Msg("connection unregistered")

	if cm.handler != nil {
		cm.handler.HandleDisconnect(conn)
	}
}

// BroadcastToRoom queues an event for every connection in a room. It never
// blocks. Playback events are never dropped: a queued playback event is
// replaced by the room's next one. Other events are dropped when the queue
// is full.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, event *RoomEvent) {
	if event.Type == EventTypePlaybackUpdated {
		cm.queuePlayback(roomID, event)
		return
	}
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Event: event}:
	default:
		log.Error().
			Str("room_id", roomID).
			Str("event_type", string(event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// queuePlayback stores the room's newest playback event and wakes Start.
// Callers deliver states in acceptance order, so the later event wins.
func (cm *ConnectionManager) queuePlayback(roomID string, event *RoomEvent) {
	cm.pendingMu.Lock()
	if _, replaced := cm.pendingPlayback[roomID]; replaced {
		log.Debug().Str("room_id", roomID).Msg("superseding queued playback event")
	}
	cm.pendingPlayback[roomID] = event
	cm.pendingMu.Unlock()

	select {
	case cm.playbackReady <- struct{}{}:
	default:
	}
}

func (cm *ConnectionManager) flushPlayback() {
	cm.pendingMu.Lock()
	pending := cm.pendingPlayback
	cm.pendingPlayback = make(map[string]*RoomEvent, len(pending))
	cm.pendingMu.Unlock()

	for roomID, event := range pending {
		cm.handleBroadcast(BroadcastMessage{RoomID: roomID, Event: event})
	}
}

// SendTo delivers an event to a single connection
func (cm *ConnectionManager) SendTo(conn *Connection, event *RoomEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return false
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.roomConnections[conn.RoomID][conn] {
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0
	// Sends happen under the read lock so no channel is closed mid-send.
	cm.mu.RLock()
	for conn := range cm.roomConnections[message.RoomID] {
		if message.UserID != "" && conn.User.ID != message.UserID {
			continue
		}
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.User.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// RoomConnections returns the number of open connections in a room
func (cm *ConnectionManager) RoomConnections(roomID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.roomConnections[roomID])
}

// UserConnected reports whether userID has an open connection in the room
func (cm *ConnectionManager) UserConnected(roomID, userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for conn := range cm.roomConnections[roomID] {
		if conn.User.ID == userID {
			return true
		}
	}
	return false
}

// ConnectionStats summarizes open connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	stats := ConnectionStats{RoomConnections: make(map[string]int, len(cm.roomConnections))}
	for roomID, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[roomID] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()
	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client message")
			continue
		}
		if c.Manager.handler != nil {
			c.Manager.handler.HandleClientMessage(c, msg)
		}
	}
}
