package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkincode/wagate/internal/domain"
)

// Session is a point-in-time copy of a registry entry.
type Session struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	State        State                   `json:"state"`
	PairingCode  string                  `json:"pairing_code,omitempty"`
	DeviceJID    string                  `json:"device_jid,omitempty"`
	Webhooks     domain.WebhookEndpoints `json:"webhooks"`
	Connecting   bool                    `json:"connecting"`
	Deleting     bool                    `json:"deleting"`
	Reconnecting bool                    `json:"reconnecting"`
	CreatedAt    time.Time               `json:"created_at"`
}

// entry holds the live state of one session. The lifecycle flags are only ever
// taken with CompareAndSwap so two callers can never both win.
type entry struct {
	id string

	connecting   atomic.Bool
	deleting     atomic.Bool
	reconnecting atomic.Bool
	// closePending records a close that arrived while a reconnect held the flag
	closePending atomic.Bool

	// ctx is cancelled when the entry is removed; reconnect loops watch it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	name        string
	state       State
	pairingCode string
	deviceJID   string
	webhooks    domain.WebhookEndpoints
	conn        Conn
	gen         uint64 // bumped whenever conn is replaced
	createdAt   time.Time

	// reconnectAttempts counts attempts since the last successful open; guarded by mu
	reconnectAttempts int
}

func newEntry(id, name string) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		id:        id,
		name:      name,
		state:     StateCreated,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
}

func (e *entry) snapshot() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Session{
		ID:           e.id,
		Name:         e.name,
		State:        e.state,
		PairingCode:  e.pairingCode,
		DeviceJID:    e.deviceJID,
		Webhooks:     e.webhooks,
		Connecting:   e.connecting.Load(),
		Deleting:     e.deleting.Load(),
		Reconnecting: e.reconnecting.Load(),
		CreatedAt:    e.createdAt,
	}
}

func (e *entry) tryBeginConnect() bool   { return e.connecting.CompareAndSwap(false, true) }
func (e *entry) endConnect()             { e.connecting.Store(false) }
func (e *entry) tryBeginDelete() bool    { return e.deleting.CompareAndSwap(false, true) }
func (e *entry) tryBeginReconnect() bool { return e.reconnecting.CompareAndSwap(false, true) }
func (e *entry) endReconnect()           { e.reconnecting.Store(false) }
func (e *entry) isDeleting() bool        { return e.deleting.Load() }

func (e *entry) nextReconnectAttempt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconnectAttempts++
	return e.reconnectAttempts
}

func (e *entry) resetReconnectAttempts() {
	e.mu.Lock()
	e.reconnectAttempts = 0
	e.mu.Unlock()
}

func (e *entry) getState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *entry) currentConn() (Conn, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn, e.gen
}

// beginGeneration detaches the current connection and returns it together with the
// generation a replacement must be installed under. Events tagged with an older
// generation are ignored from here on.
func (e *entry) beginGeneration() (Conn, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.conn
	e.conn = nil
	e.gen++
	return old, e.gen
}

// installConn stores c if gen is still current.
func (e *entry) installConn(gen uint64, c Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.conn = c
	return true
}

func (e *entry) removed() bool {
	return e.ctx.Err() != nil
}

func (e *entry) isCurrent(gen uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gen == gen
}

// Registry is the authoritative in-memory table of sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create adds a session in state CREATED. If id already exists the existing
// session is returned with created=false.
func (r *Registry) Create(id, name string) (s Session, created bool) {
	e, created := r.getOrCreate(id, name)
	return e.snapshot(), created
}

func (r *Registry) getOrCreate(id, name string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, false
	}
	e := newEntry(id, name)
	r.entries[id] = e
	return e, true
}

func (r *Registry) Get(id string) (Session, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove drops the session, cancels its lifecycle context and releases its flags.
// A later Create with the same id starts from a fresh entry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	e.connecting.Store(false)
	e.reconnecting.Store(false)
	e.deleting.Store(false)
	return true
}

// List returns all sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// WebhookEndpoint implements webhook.EndpointResolver.
func (r *Registry) WebhookEndpoint(sessionID string, category domain.WebhookCategory) (string, bool) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return "", false
	}
	e.mu.RLock()
	url := e.webhooks.For(category)
	e.mu.RUnlock()
	return url, url != ""
}
