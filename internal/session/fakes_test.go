package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/message"
	"github.com/talkincode/wagate/internal/repository"
	"go.mau.fi/whatsmeow"
)

type fakeConn struct {
	id      string
	handler func(Event)
	// connectGate, when set, blocks Connect until closed
	connectGate chan struct{}
	// dropAfter, when set, makes the server drop the link shortly after Connect
	dropAfter time.Duration

	disconnects int32
	logouts     int32
	sent        []string
	mu          sync.Mutex
}

func (c *fakeConn) Connect() error {
	if c.connectGate != nil {
		<-c.connectGate
	}
	if c.dropAfter > 0 {
		go func() {
			time.Sleep(c.dropAfter)
			c.emit(Closed{Reason: ReasonConnectFailure})
		}()
	}
	return nil
}

func (c *fakeConn) Disconnect() { atomic.AddInt32(&c.disconnects, 1) }

func (c *fakeConn) Logout(ctx context.Context) error {
	atomic.AddInt32(&c.logouts, 1)
	return nil
}

func (c *fakeConn) SendText(ctx context.Context, to, text string) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+":"+text)
	return "3EB0AA", time.Unix(1700000000, 0), nil
}

func (c *fakeConn) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return nil, nil
}

func (c *fakeConn) emit(evt Event) { c.handler(evt) }

type fakeConnector struct {
	mu    sync.Mutex
	opens int32
	conns []*fakeConn
	// openGate, when set, blocks every Open after the gateOpenFrom-th until closed;
	// openStarted is signalled first
	openGate     chan struct{}
	openStarted  chan struct{}
	gateOpenFrom int
	// gateConnectFrom makes every conn after the nth block in Connect on connectGate
	gateConnectFrom int
	connectGate     chan struct{}
	// failFrom makes every Open after the nth fail
	failFrom int
	// dropAfter is copied onto every conn
	dropAfter time.Duration

	inflight    int32
	maxInflight int32
}

func (f *fakeConnector) Open(ctx context.Context, sessionID, deviceJID string, handler func(Event)) (Conn, error) {
	n := atomic.AddInt32(&f.opens, 1)
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInflight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInflight, prev, cur) {
			break
		}
	}
	if f.openGate != nil && int(n) > f.gateOpenFrom {
		if f.openStarted != nil {
			f.openStarted <- struct{}{}
		}
		<-f.openGate
	}
	if f.failFrom > 0 && int(n) > f.failFrom {
		return nil, errors.New("dial failed")
	}
	c := &fakeConn{id: sessionID, handler: handler, dropAfter: f.dropAfter}
	if f.gateConnectFrom > 0 && int(n) > f.gateConnectFrom {
		c.connectGate = f.connectGate
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeConnector) openCount() int { return int(atomic.LoadInt32(&f.opens)) }

func (f *fakeConnector) opensBySession() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, c := range f.conns {
		out[c.id]++
	}
	return out
}

func (f *fakeConnector) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type fakeCreds struct {
	mu    sync.Mutex
	wiped []string
	err   error
}

func (f *fakeCreds) Wipe(ctx context.Context, deviceJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped = append(f.wiped, deviceJID)
	return f.err
}

func (f *fakeCreds) wipedJIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.wiped...)
}

type memRepo struct {
	mu   sync.Mutex
	recs map[string]*domain.WaSession
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]*domain.WaSession)}
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*domain.WaSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) Upsert(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	if _, ok := r.recs[id]; !ok {
		r.recs[id] = &domain.WaSession{ID: id}
	}
	r.mu.Unlock()
	return r.Update(ctx, id, fields)
}

func (r *memRepo) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return repository.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case domain.FieldName:
			rec.Name = v.(string)
		case domain.FieldPairingCode:
			rec.PairingCode = v.(string)
		case domain.FieldConnected:
			rec.Connected = v.(bool)
		case domain.FieldDeviceJid:
			rec.DeviceJid = v.(string)
		case domain.FieldWebhookReceive:
			rec.WebhookReceive = v.(string)
		case domain.FieldWebhookSend:
			rec.WebhookSend = v.(string)
		case domain.FieldWebhookStatus:
			rec.WebhookStatus = v.(string)
		case domain.FieldWebhookSession:
			rec.WebhookSession = v.(string)
		}
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, id)
	return nil
}

func (r *memRepo) ListAll(ctx context.Context) ([]*domain.WaSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.WaSession, 0, len(r.recs))
	for _, rec := range r.recs {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type delivery struct {
	url      string
	category domain.WebhookCategory
	payload  interface{}
}

// recordingDispatcher resolves endpoints from the registry like the real dispatcher.
type recordingDispatcher struct {
	registry *Registry
	mu       sync.Mutex
	sent     []delivery
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, sessionID string, category domain.WebhookCategory, payload interface{}) error {
	url, ok := d.registry.WebhookEndpoint(sessionID, category)
	if !ok {
		return nil
	}
	return d.Deliver(ctx, url, sessionID, category, payload)
}

func (d *recordingDispatcher) Deliver(ctx context.Context, url, sessionID string, category domain.WebhookCategory, payload interface{}) error {
	if url == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, delivery{url: url, category: category, payload: payload})
	return nil
}

func (d *recordingDispatcher) byCategory(c domain.WebhookCategory) []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []delivery
	for _, x := range d.sent {
		if x.category == c {
			out = append(out, x)
		}
	}
	return out
}

type harness struct {
	mgr        *Manager
	repo       *memRepo
	connector  *fakeConnector
	creds      *fakeCreds
	dispatcher *recordingDispatcher
}

func newHarness(t *testing.T, connector *fakeConnector, policy ReconnectPolicy) *harness {
	t.Helper()
	return newHarnessWithOptions(t, connector, Options{Reconnect: policy, RecoveryConcurrency: 1})
}

func newHarnessWithOptions(t *testing.T, connector *fakeConnector, opts Options) *harness {
	t.Helper()
	if connector == nil {
		connector = &fakeConnector{}
	}
	reg := NewRegistry()
	h := &harness{
		repo:       newMemRepo(),
		connector:  connector,
		creds:      &fakeCreds{},
		dispatcher: &recordingDispatcher{registry: reg},
	}
	mgr, err := NewManager(reg, h.repo, connector, h.creds, message.NewNormalizer(nil, false), h.dispatcher, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Shutdown)
	h.mgr = mgr
	return h
}

func fastBackoff() ReconnectPolicy {
	return ReconnectPolicy{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateOf(t *testing.T, m *Manager, id string) State {
	t.Helper()
	s, err := m.Get(id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return s.State
}
