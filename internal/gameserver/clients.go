package gameserver

import "sync"

// ClientManager tracks connected clients by user.
// At most one session per user is registered.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewClientManager creates an empty manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[int64]*Client),
	}
}

// Register makes c the session of its user and returns the session it
// replaced, if any.
func (cm *ClientManager) Register(c *Client) *Client {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	prev := cm.clients[c.UserID()]
	cm.clients[c.UserID()] = c
	return prev
}

// Unregister removes c. A newer session of the same user is left alone.
func (cm *ClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.clients[c.UserID()] == c {
		delete(cm.clients, c.UserID())
	}
}

// Get returns the session of userID or nil.
func (cm *ClientManager) Get(userID int64) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[userID]
}

// Count returns the number of connected clients.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// ForEachClient iterates over all connected clients.
// If fn returns false, iteration stops.
func (cm *ClientManager) ForEachClient(fn func(*Client) bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.clients {
		if !fn(c) {
			return
		}
	}
}

// Broadcast queues frame to every connected client and returns how many
// accepted it.
func (cm *ClientManager) Broadcast(frame []byte) int {
	var clients []*Client
	cm.ForEachClient(func(c *Client) bool {
		clients = append(clients, c)
		return true
	})

	// Send may close a slow client; do it outside the read lock.
	n := 0
	for _, c := range clients {
		if c.Send(frame) == nil {
			n++
		}
	}
	return n
}
