package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	once sync.Once
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	return &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
}

// writePump drains send until it is closed. A failed write removes the
// client from the broadcaster so it is not written to again.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans snapshots, throttled deltas and signals out to WebSocket
// clients. Every outgoing record passes through the privacy filter.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *session.Store
	throttle       time.Duration
	maxConns       int
	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
	seq            atomic.Uint64
	logger         *slog.Logger

	privacyMu sync.RWMutex
	privacy   *session.PrivacyFilter

	healthMu   sync.RWMutex
	healthHook func() *SearchHealthPayload

	pendingUpdates []*session.Record
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

// NewBroadcaster starts the periodic snapshot loop. maxConns of zero means
// unlimited clients. Call Stop to end the loop.
func NewBroadcaster(store *session.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		throttle: throttle,
		maxConns: maxConns,
		stop:     make(chan struct{}),
		privacy:  &session.PrivacyFilter{},
		logger:   slog.Default().With("component", "ws"),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) SetLogger(logger *slog.Logger) {
	b.logger = logger.With("component", "ws")
}

// SetPrivacyFilter replaces the filter applied to outgoing records. A nil
// filter disables filtering.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.privacyMu.Lock()
	b.privacy = f
	b.privacyMu.Unlock()
}

// WatchSettings keeps the privacy filter in sync with reloaded settings.
func (b *Broadcaster) WatchSettings(s *config.Settings) func() {
	if f, ok := config.Get(s, config.KeyPrivacy); ok {
		b.SetPrivacyFilter(&f)
	}
	return config.Subscribe(s, config.KeyPrivacy, func(f session.PrivacyFilter) {
		b.SetPrivacyFilter(&f)
		b.logger.Info("privacy filter updated", "noop", f.IsNoop())
	})
}

// SetHealthHook registers the function consulted for the health section of
// snapshots.
func (b *Broadcaster) SetHealthHook(fn func() *SearchHealthPayload) {
	b.healthMu.Lock()
	b.healthHook = fn
	b.healthMu.Unlock()
}

func (b *Broadcaster) health() *SearchHealthPayload {
	b.healthMu.RLock()
	fn := b.healthHook
	b.healthMu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (b *Broadcaster) filter() *session.PrivacyFilter {
	b.privacyMu.RLock()
	defer b.privacyMu.RUnlock()
	return b.privacy
}

// FilterSessions applies the privacy filter. The input is never modified.
func (b *Broadcaster) FilterSessions(records []*session.Record) []*session.Record {
	f := b.filter()
	if f.IsNoop() {
		return records
	}
	return f.FilterSlice(records)
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := newClient(conn, b)

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	data, err := json.Marshal(b.snapshotMessage())
	if err != nil {
		b.logger.Error("snapshot marshal failed", "error", err)
		return c, nil
	}

	// The client may already have been removed by a failed write.
	b.mu.RLock()
	if b.clients[c] {
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the snapshot
		}
	}
	b.mu.RUnlock()

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) QueueUpdate(records []*session.Record) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, records...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) QueueRemoval(ids []string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// Notify broadcasts the activity signal. It satisfies activity.Notifier.
func (b *Broadcaster) Notify(_ context.Context, sig session.Signal) error {
	b.BroadcastMessage(WSMessage{
		Type:    MsgSignal,
		Payload: SignalPayload{Signal: sig},
	})
	return nil
}

// flush sends the pending delta. Updates hidden by the privacy filter are
// reported as removed so clients drop any copy they already hold.
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

	f := b.filter()
	if !f.IsNoop() {
		visible := make([]*session.Record, 0, len(updates))
		for _, rec := range updates {
			if f.IsAllowed(rec) {
				visible = append(visible, f.Apply(rec))
			} else {
				removed = append(removed, rec.ID)
			}
		}
		updates = visible
	}

	b.BroadcastMessage(WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.FilterSessions(b.store.GetAll()),
			Signal:   b.store.Signal(),
			Health:   b.health(),
		},
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			b.BroadcastMessage(b.snapshotMessage())
		}
	}
}

// BroadcastMessage stamps msg with the next sequence number and sends it to
// every client. Clients whose buffer is full are disconnected.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal failed", "type", msg.Type, "error", err)
		return
	}

	// Sends happen under the read lock so a concurrent RemoveClient cannot
	// close a channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.snapshotTicker.Stop()
	})

	b.flushMu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.flushMu.Unlock()

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}
