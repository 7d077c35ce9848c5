package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

var (
	ErrBufferFull   = errors.New("connection buffer full")
	ErrNotConnected = errors.New("no connection subscribed")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Manager handles WebSocket connections and message routing
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

var _ notifications.Broadcaster = (*Manager)(nil)

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	Identity     string
	Accounts     map[string]bool
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	mu           sync.Mutex
}

func (c *Connection) subscribed(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[address]
}

// Hub manages the broadcast of messages to connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	done        chan struct{}
	logger      *zap.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.WebSocketMessage, sendBuffer),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}

	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// HandleConnection upgrades the request and starts pumping events to it.
// identity is the authenticated wallet address, empty for anonymous
// clients.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, identity string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		Identity:     identity,
		Accounts:     make(map[string]bool),
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
	}
	if identity != "" {
		connection.Accounts[identity] = true
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, errors.New("websocket manager closed")
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump pumps messages from the WebSocket connection to the hub
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("Websocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	switch msg.Type {
	case notifications.WSMessageTypeSubscribe:
		m.updateSubscriptions(conn, msg, true)
	case notifications.WSMessageTypeUnsubscribe:
		m.updateSubscriptions(conn, msg, false)
	default:
		m.logger.Debug("Unknown message type", zap.String("type", msg.Type))
	}
}

// updateSubscriptions adds or removes account addresses listed under
// data.accounts and confirms the resulting set.
func (m *Manager) updateSubscriptions(conn *Connection, msg *notifications.WebSocketMessage, add bool) {
	accounts, _ := msg.Data["accounts"].([]interface{})

	conn.mu.Lock()
	for _, a := range accounts {
		if s, ok := a.(string); ok && s != "" {
			if add {
				conn.Accounts[s] = true
			} else {
				delete(conn.Accounts, s)
			}
		}
	}
	current := make([]string, 0, len(conn.Accounts))
	for a := range conn.Accounts {
		current = append(current, a)
	}
	conn.mu.Unlock()

	response := notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Data:      map[string]interface{}{"status": "subscribed", "connection_id": conn.ID, "accounts": current},
		Timestamp: time.Now(),
		Channel:   notifications.ChannelPrivate,
		Target:    conn.Identity,
	}
	m.deliver(conn, response)
}

// deliver queues a message without blocking. A full buffer drops it.
func (m *Manager) deliver(conn *Connection, message notifications.WebSocketMessage) bool {
	defer func() {
		// Send may be closed by the hub during shutdown.
		_ = recover()
	}()
	select {
	case conn.Send <- message:
		return true
	default:
		m.logger.Warn("Websocket buffer full, dropping message", zap.String("connection_id", conn.ID))
		return false
	}
}

// run runs the hub in its own goroutine
func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("Connection registered", zap.String("connection_id", conn.ID), zap.String("identity", conn.Identity))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				h.logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				select {
				case conn.Send <- message:
				default:
					h.logger.Warn("Websocket buffer full, dropping broadcast", zap.String("connection_id", conn.ID))
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}

// Broadcast sends a message to all connected clients
func (m *Manager) Broadcast(message notifications.WebSocketMessage) error {
	select {
	case <-m.hub.done:
		return errors.New("websocket manager closed")
	default:
	}
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// SendToAccount sends a message to every connection subscribed to an
// account address and returns how many received it.
func (m *Manager) SendToAccount(address string, message notifications.WebSocketMessage) (int, error) {
	m.mu.RLock()
	targets := make([]*Connection, 0)
	for _, conn := range m.connections {
		if conn.subscribed(address) {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return 0, ErrNotConnected
	}
	message.Target = address
	sent := 0
	for _, conn := range targets {
		if m.deliver(conn, message) {
			sent++
		}
	}
	if sent == 0 {
		return 0, ErrBufferFull
	}
	return sent, nil
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ConnectionInfo represents connection information for monitoring
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	Identity     string    `json:"identity"`
	Accounts     []string  `json:"accounts"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
}

// GetConnectionInfo returns information about all active connections
func (m *Manager) GetConnectionInfo() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		accounts := make([]string, 0, len(conn.Accounts))
		for a := range conn.Accounts {
			accounts = append(accounts, a)
		}
		info = append(info, ConnectionInfo{
			ConnectionID: conn.ID,
			Identity:     conn.Identity,
			Accounts:     accounts,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity,
			UserAgent:    conn.UserAgent,
			IPAddress:    conn.IPAddress,
		})
		conn.mu.Unlock()
	}
	return info
}

// Close stops the hub and disconnects every client
func (m *Manager) Close() {
	select {
	case <-m.hub.stop:
		return
	default:
		close(m.hub.stop)
	}
	<-m.hub.done

	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Conn.Close()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()
}
