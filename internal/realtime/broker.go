package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Message defines the shape of a real-time notification sent to a client.
// The sync pipeline publishes "challenge_completed" messages when a user's
// accumulated progress crosses a challenge target.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Broker is the central hub for managing SSE client connections. Each
// connected user has one buffered channel messages are pushed to.
type Broker struct {
	clients map[int64]chan []byte
	mu      sync.RWMutex
}

// NewBroker creates a new Broker instance.
func NewBroker() *Broker {
	return &Broker{
		clients: make(map[int64]chan []byte),
	}
}

// AddClient registers a new client connection for a user and returns the
// channel their messages arrive on. A second connection from the same user
// (another tab) replaces the first; the old stream ends on its own.
func (b *Broker) AddClient(userID int64) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, 10)
	b.clients[userID] = ch
	log.Printf("SSE client connected for user %d", userID)
	return ch
}

// RemoveClient unregisters a client and closes their channel.
func (b *Broker) RemoveClient(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[userID]; ok {
		delete(b.clients, userID)
		close(ch)
		log.Printf("SSE client disconnected for user %d", userID)
	}
}

// NotifyUser sends a message to a specific user if they are connected.
// Delivery is best-effort: a full buffer drops the message rather than
// blocking the caller, which may be mid-sync.
func (b *Broker) NotifyUser(userID int64, message Message) {
	b.mu.RLock()
	clientChan, ok := b.clients[userID]
	b.mu.RUnlock()

	if !ok {
		return
	}

	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("ERROR: could not marshal SSE message for user %d: %v", userID, err)
		return
	}

	select {
	case clientChan <- jsonMsg:
	default:
		log.Printf("WARN: SSE channel for user %d is full. Dropping message.", userID)
	}
}
