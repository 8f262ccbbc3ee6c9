package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/passingBySol/agentnotch/internal/state"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// SnapshotFunc pulls the current published session list.
type SnapshotFunc func() []*state.Session

// Broadcaster fans published state out to websocket clients. It is the
// engine's observer: updates are throttled into coalesced deltas, a
// periodic full snapshot reconciles drift, and completion notices go
// out immediately.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot SnapshotFunc
	throttle time.Duration

	snapshotTicker *time.Ticker
	stopOnce       sync.Once
	stop           chan struct{}

	flushMu        sync.Mutex
	pendingUpdates []*state.Session
	pendingRemoved []string
	flushTimer     *time.Timer
}

func NewBroadcaster(snapshot SnapshotFunc, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		throttle: throttle,
		stop:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Stop halts the periodic snapshot loop and disconnects all clients.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.stop)
	})

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// SessionsUpdated implements state.Observer. The full filtered list
// replaces any pending delta; the flush timer coalesces bursts.
func (b *Broadcaster) SessionsUpdated(sessions []*state.Session) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = sessions

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// SessionRemoved implements state.Observer.
func (b *Broadcaster) SessionRemoved(key string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, key)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// SessionCompleted implements state.Observer. Completion notices skip
// the throttle so consumers can react promptly.
func (b *Broadcaster) SessionCompleted(s *state.Session) {
	b.broadcast(WSMessage{
		Type: MsgCompletion,
		Payload: CompletionPayload{
			SessionID:  s.ID,
			Key:        s.Key,
			Activity:   s.Activity,
			WorkingDir: s.WorkingDir,
			Tokens:     s.Usage.Total(),
		},
	})
}

// PublishSourceHealth pushes a source health transition to clients.
func (b *Broadcaster) PublishSourceHealth(p SourceHealthPayload) {
	b.broadcast(WSMessage{Type: MsgSourceHealth, Payload: p})
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	snapshot := WSMessage{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Sessions: b.snapshot()},
	}
	data, _ := json.Marshal(snapshot)

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	msg := WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	}
	b.broadcast(msg)
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.snapshotTicker.C:
			b.broadcast(WSMessage{
				Type:    MsgSnapshot,
				Payload: SnapshotPayload{Sessions: b.snapshot()},
			})
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
