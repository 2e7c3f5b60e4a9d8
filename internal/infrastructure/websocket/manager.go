package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dealroom/internal/domain/entity"
	"dealroom/pkg/errors"
)

const sendBufferSize = 256

// Manager owns the presence registry and channel membership. It is created at
// startup and torn down with Close.
type Manager struct {
	presence map[string]*Client
	channels map[string]map[*Client]struct{}
	clients  map[*Client]struct{}
	closed   bool
	mutex    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		presence: make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect registers an authenticated connection. The user's presence entry
// points at the newest connection and it is subscribed to the user's
// personal channel.
func (m *Manager) Connect(conn *websocket.Conn, session *entity.Session) (*Client, error) {
	client := &Client{
		ID:       uuid.New().String(),
		UserID:   session.UserID,
		Role:     session.Role,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		manager:  m,
		channels: make(map[string]struct{}),
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, errors.New(errors.CodeInternal, "Gateway is shutting down", http.StatusServiceUnavailable, nil)
	}

	m.clients[client] = struct{}{}
	m.presence[client.UserID] = client
	m.subscribeLocked(client, UserChannel(client.UserID))

	log.Printf("Client registered: %s (connection %s)", client.UserID, client.ID)
	return client, nil
}

// Disconnect removes the connection's subscriptions and, if it is still the
// user's newest connection, the presence entry.
func (m *Manager) Disconnect(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.clients[client]; !ok {
		return
	}

	for channel := range client.channels {
		m.unsubscribeLocked(client, channel)
	}
	if m.presence[client.UserID] == client {
		delete(m.presence, client.UserID)
	}
	delete(m.clients, client)
	client.closeSendLocked()

	log.Printf("Client unregistered: %s (connection %s)", client.UserID, client.ID)
}

func (m *Manager) Subscribe(client *Client, channel string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.clients[client]; !ok {
		return errors.BadRequest("Connection is closed", nil)
	}
	m.subscribeLocked(client, channel)
	return nil
}

func (m *Manager) Unsubscribe(client *Client, channel string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unsubscribeLocked(client, channel)
}

func (m *Manager) subscribeLocked(client *Client, channel string) {
	members, ok := m.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		m.channels[channel] = members
	}
	members[client] = struct{}{}
	client.channels[channel] = struct{}{}
}

func (m *Manager) unsubscribeLocked(client *Client, channel string) {
	if members, ok := m.channels[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(m.channels, channel)
		}
	}
	delete(client.channels, channel)
}

// Publish delivers an event to every subscriber of channel.
func (m *Manager) Publish(channel, eventType string, data interface{}) {
	m.publish(channel, "", eventType, data)
}

// PublishExcept delivers an event to every subscriber of channel not owned by exceptUserID.
func (m *Manager) PublishExcept(channel, exceptUserID, eventType string, data interface{}) {
	m.publish(channel, exceptUserID, eventType, data)
}

func (m *Manager) publish(channel, exceptUserID, eventType string, data interface{}) {
	payload, err := encode(eventType, data)
	if err != nil {
		log.Printf("Publish Error: encoding %s event: %v", eventType, err)
		return
	}

	var slow []*Client

	m.mutex.RLock()
	for client := range m.channels[channel] {
		if exceptUserID != "" && client.UserID == exceptUserID {
			continue
		}
		if !client.enqueueLocked(payload) {
			slow = append(slow, client)
		}
	}
	m.mutex.RUnlock()

	for _, client := range slow {
		log.Printf("Dropping slow connection %s of user %s", client.ID, client.UserID)
		m.Disconnect(client)
	}
}

func (m *Manager) SendToUser(userID, eventType string, data interface{}) {
	m.Publish(UserChannel(userID), eventType, data)
}

func (m *Manager) IsOnline(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.presence[userID]
	return ok
}

// Subscribers returns the number of connections subscribed to channel.
func (m *Manager) Subscribers(channel string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.channels[channel])
}

// Close disconnects every client and rejects new connections.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cancel()

	for client := range m.clients {
		client.channels = make(map[string]struct{})
		client.closeSendLocked()
	}
	m.clients = make(map[*Client]struct{})
	m.presence = make(map[string]*Client)
	m.channels = make(map[string]map[*Client]struct{})

	log.Printf("WebSocket manager closed")
}
