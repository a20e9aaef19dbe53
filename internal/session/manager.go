package session

import (
	"context"
	"encoding/base64"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/media"
	"github.com/talkincode/wagate/internal/message"
	"github.com/talkincode/wagate/internal/repository"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// TopicStateChanged is published on the manager's bus after every transition.
const TopicStateChanged = "session:state"

const persistTimeout = 10 * time.Second

// StateChange is the payload of TopicStateChanged and of the session webhook.
type StateChange struct {
	SessionID  string    `json:"sessionId"`
	State      State     `json:"state"`
	OccurredAt time.Time `json:"occurredAt"`
	// endpoint is captured at publish time so DELETED still reaches the tenant
	endpoint string
}

// Dispatcher delivers webhook documents.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, category domain.WebhookCategory, payload interface{}) error
	Deliver(ctx context.Context, url, sessionID string, category domain.WebhookCategory, payload interface{}) error
}

// Options tune reconnection and concurrency.
type Options struct {
	Reconnect ReconnectPolicy
	// RecoveryConcurrency is how many sessions Recover starts in parallel; 1 is sequential.
	RecoveryConcurrency int
	// WorkerPoolSize bounds inbound processing; 0 handles events inline.
	WorkerPoolSize int
}

func OptionsFromConfig(c config.SessionConfig) Options {
	return Options{
		Reconnect: ReconnectPolicy{
			Initial:     c.ReconnectInitial(),
			Max:         c.ReconnectMax(),
			Multiplier:  c.ReconnectMultiplier,
			Jitter:      c.ReconnectJitter,
			MaxAttempts: c.MaxReconnectAttempts,
		},
		RecoveryConcurrency: c.RecoveryConcurrency,
		WorkerPoolSize:      c.WorkerPoolSize,
	}
}

// Manager drives the connection state machine of every session.
type Manager struct {
	registry   *Registry
	repo       repository.SessionRepository
	connector  Connector
	creds      CredentialStore
	normalizer *message.Normalizer
	dispatcher Dispatcher
	bus        EventBus.Bus
	pool       *ants.Pool
	opts       Options

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewManager(
	registry *Registry,
	repo repository.SessionRepository,
	connector Connector,
	creds CredentialStore,
	normalizer *message.Normalizer,
	dispatcher Dispatcher,
	opts Options,
) (*Manager, error) {
	m := &Manager{
		registry:   registry,
		repo:       repo,
		connector:  connector,
		creds:      creds,
		normalizer: normalizer,
		dispatcher: dispatcher,
		bus:        EventBus.New(),
		opts:       opts,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if opts.WorkerPoolSize > 0 {
		pool, err := ants.NewPool(opts.WorkerPoolSize, ants.WithPanicHandler(func(p interface{}) {
			zap.L().Error("session: worker panic", zap.Any("panic", p))
		}))
		if err != nil {
			return nil, errors.Wrap(err, "create session worker pool")
		}
		m.pool = pool
	}
	if err := m.bus.SubscribeAsync(TopicStateChanged, m.forwardStateChange, false); err != nil {
		return nil, errors.Wrap(err, "subscribe lifecycle forwarder")
	}
	return m, nil
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Bus exposes lifecycle notifications to other components.
func (m *Manager) Bus() EventBus.Bus {
	return m.bus
}

// Create registers a new session, persists it and starts pairing.
func (m *Manager) Create(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return Session{}, errors.Wrap(ErrInvalid, "name must be 1-100 characters")
	}
	id := uuid.NewString()
	m.registry.Create(id, name)
	if err := m.repo.Upsert(ctx, id, map[string]interface{}{
		domain.FieldName:      name,
		domain.FieldConnected: false,
	}); err != nil {
		m.registry.Remove(id)
		return Session{}, err
	}
	zap.L().Info("session: created", zap.String("session_id", id), zap.String("name", name))

	if err := m.Start(ctx, id); err != nil {
		zap.L().Warn("session: initial start failed", zap.String("session_id", id), zap.Error(err))
	}
	s, _ := m.registry.Get(id)
	return s, nil
}

// Start opens a connection for id. A start while another is in flight is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, ok := m.registry.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if e.isDeleting() {
		return nil
	}
	if !e.tryBeginConnect() {
		zap.L().Info("session: start ignored, already connecting", zap.String("session_id", id))
		return nil
	}
	defer e.endConnect()
	e.resetReconnectAttempts()
	return m.connect(ctx, e)
}

// connect must be called with the connecting flag held.
func (m *Manager) connect(ctx context.Context, e *entry) error {
	e.mu.RLock()
	name, deviceJID := e.name, e.deviceJID
	e.mu.RUnlock()

	m.persist(e.id, map[string]interface{}{domain.FieldName: name}, true)

	old, gen := e.beginGeneration()
	if old != nil {
		old.Disconnect()
	}
	conn, err := m.connector.Open(ctx, e.id, deviceJID, m.handler(e, gen))
	if err != nil {
		return errors.Wrapf(err, "open connection for session %s", e.id)
	}
	if !e.installConn(gen, conn) || e.isDeleting() || e.removed() {
		conn.Disconnect()
		return nil
	}

	if deviceJID == "" {
		m.transition(e, StateAwaitingPairing)
	} else {
		m.transition(e, StateConnecting)
	}
	if err := conn.Connect(); err != nil {
		return errors.Wrapf(err, "connect session %s", e.id)
	}
	return nil
}

func (m *Manager) handler(e *entry, gen uint64) func(Event) {
	return func(evt Event) {
		if e.removed() || !e.isCurrent(gen) {
			return
		}
		switch v := evt.(type) {
		case PairingCode:
			m.onPairingCode(e, v.Code)
		case Paired:
			m.onPaired(e, v.DeviceJID)
		case Opened:
			m.onOpened(e, v.DeviceJID)
		case Closed:
			m.onClosed(e, v.Reason)
		case InboundMessage:
			m.submit(func() { m.onMessage(e, v.Message) })
		case DeliveryReceipt:
			m.submit(func() { m.onReceipt(e, v.Receipt) })
		}
	}
}

func (m *Manager) onPairingCode(e *entry, code string) {
	if e.isDeleting() {
		return
	}
	e.mu.Lock()
	e.pairingCode = code
	e.mu.Unlock()
	m.persist(e.id, map[string]interface{}{domain.FieldPairingCode: code}, false)
	zap.L().Debug("session: pairing code issued", zap.String("session_id", e.id))
}

func (m *Manager) onPaired(e *entry, deviceJID string) {
	if e.isDeleting() {
		return
	}
	e.mu.Lock()
	e.deviceJID = deviceJID
	e.pairingCode = ""
	e.mu.Unlock()
	m.persist(e.id, map[string]interface{}{
		domain.FieldDeviceJid:   deviceJID,
		domain.FieldPairingCode: "",
	}, false)
	m.transition(e, StateConnecting)
	zap.L().Info("session: device paired", zap.String("session_id", e.id), zap.String("jid", deviceJID))
}

func (m *Manager) onOpened(e *entry, deviceJID string) {
	if e.isDeleting() {
		return
	}
	e.mu.Lock()
	if deviceJID != "" {
		e.deviceJID = deviceJID
	}
	deviceJID = e.deviceJID
	e.pairingCode = ""
	e.reconnectAttempts = 0
	e.mu.Unlock()
	m.persist(e.id, map[string]interface{}{
		domain.FieldConnected:   true,
		domain.FieldPairingCode: "",
		domain.FieldDeviceJid:   deviceJID,
	}, false)
	m.transition(e, StateConnected)
	zap.L().Info("session: connected", zap.String("session_id", e.id), zap.String("jid", deviceJID))
}

func (m *Manager) onClosed(e *entry, reason CloseReason) {
	if e.isDeleting() {
		return
	}
	if reason.IsLogout() {
		zap.L().Info("session: logged out by network", zap.String("session_id", e.id))
		m.applyLogout(e)
		return
	}
	if !e.tryBeginReconnect() {
		e.closePending.Store(true)
		zap.L().Debug("session: close deferred, reconnect in flight",
			zap.String("session_id", e.id), zap.String("reason", reason.String()))
		return
	}
	zap.L().Info("session: connection closed, reconnecting",
		zap.String("session_id", e.id), zap.String("reason", reason.String()))
	m.transition(e, StateReconnecting)
	go m.reconnectLoop(e)
}

// reconnectLoop retries with backoff until a connection is re-established, the
// attempt budget runs out, or the session is deleted. It owns the reconnecting flag.
// The attempt count lives on the entry and is only reset by a successful open, so a
// connection that drops right after connecting keeps consuming the same budget.
func (m *Manager) reconnectLoop(e *entry) {
	policy := m.opts.Reconnect
	for {
		attempt := e.nextReconnectAttempt()
		if policy.Exhausted(attempt) {
			break
		}
		timer := time.NewTimer(m.nextDelay(attempt))
		select {
		case <-e.ctx.Done():
			timer.Stop()
			e.endReconnect()
			return
		case <-timer.C:
		}
		if e.isDeleting() || e.removed() {
			e.endReconnect()
			return
		}
		if !e.tryBeginConnect() {
			// an explicit start or refresh owns the connection now
			e.endReconnect()
			return
		}
		e.closePending.Store(false)
		err := m.connect(e.ctx, e)
		e.endConnect()
		if err != nil {
			zap.L().Warn("session: reconnect attempt failed",
				zap.String("session_id", e.id), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		e.endReconnect()
		// the new connection closed before the flag was released
		if !e.closePending.Swap(false) || !e.tryBeginReconnect() {
			return
		}
		m.transition(e, StateReconnecting)
	}

	if e.isDeleting() || e.removed() {
		e.endReconnect()
		return
	}
	zap.L().Warn("session: reconnect attempts exhausted",
		zap.String("session_id", e.id), zap.Int("attempts", policy.MaxAttempts))
	m.persist(e.id, map[string]interface{}{domain.FieldConnected: false}, false)
	m.transition(e, StateDisconnected)
	e.endReconnect()
}

func (m *Manager) nextDelay(attempt int) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.opts.Reconnect.Delay(attempt, m.rng)
}

// applyLogout moves e to LOGGED_OUT and wipes its credentials.
func (m *Manager) applyLogout(e *entry) {
	old, _ := e.beginGeneration()
	e.mu.Lock()
	deviceJID := e.deviceJID
	e.deviceJID = ""
	e.pairingCode = ""
	e.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if deviceJID != "" && m.creds != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := m.creds.Wipe(ctx, deviceJID); err != nil {
			zap.L().Warn("session: credential wipe failed", zap.String("session_id", e.id), zap.Error(err))
		}
		cancel()
	}
	m.persist(e.id, map[string]interface{}{
		domain.FieldConnected:   false,
		domain.FieldPairingCode: "",
		domain.FieldDeviceJid:   "",
	}, false)
	m.transition(e, StateLoggedOut)
}

func (m *Manager) onMessage(e *entry, evt *events.Message) {
	if m.normalizer == nil {
		return
	}
	conn, _ := e.currentConn()
	var dl media.Downloader
	if conn != nil {
		dl = conn
	}
	msg, ok := m.normalizer.Normalize(e.ctx, e.id, evt, dl)
	if !ok {
		return
	}
	_ = m.dispatcher.Dispatch(e.ctx, e.id, domain.WebhookReceive, msg)
}

func (m *Manager) onReceipt(e *entry, evt *events.Receipt) {
	st, ok := message.NormalizeReceipt(e.id, evt)
	if !ok {
		return
	}
	_ = m.dispatcher.Dispatch(e.ctx, e.id, domain.WebhookStatus, st)
}

func (m *Manager) submit(task func()) {
	if m.pool == nil {
		task()
		return
	}
	if err := m.pool.Submit(task); err != nil {
		zap.L().Warn("session: worker pool rejected task", zap.Error(err))
	}
}

// transition records the new state and publishes it.
func (m *Manager) transition(e *entry, s State) {
	e.mu.Lock()
	e.state = s
	endpoint := e.webhooks.Session
	e.mu.Unlock()
	m.bus.Publish(TopicStateChanged, StateChange{
		SessionID:  e.id,
		State:      s,
		OccurredAt: time.Now(),
		endpoint:   endpoint,
	})
}

func (m *Manager) forwardStateChange(ev StateChange) {
	if ev.endpoint == "" || m.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_ = m.dispatcher.Deliver(ctx, ev.endpoint, ev.SessionID, domain.WebhookSession, ev)
}

// persist mirrors fields to the repository. Failures are logged; the registry stays authoritative.
func (m *Manager) persist(id string, fields map[string]interface{}, upsert bool) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	var err error
	if upsert {
		err = m.repo.Upsert(ctx, id, fields)
	} else {
		err = m.repo.Update(ctx, id, fields)
	}
	if err != nil {
		zap.L().Warn("session: persist failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (m *Manager) Get(id string) (Session, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Manager) List() []Session {
	return m.registry.List()
}

// PairingImage returns the pending pairing code and a PNG data URL rendering it.
func (m *Manager) PairingImage(ctx context.Context, id string) (code string, dataURL string, err error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return "", "", ErrNotFound
	}
	code = s.PairingCode
	if code == "" {
		rec, err := m.repo.FindByID(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", "", err
		}
		if rec != nil {
			code = rec.PairingCode
		}
	}
	if code == "" {
		return "", "", ErrNoPairingCode
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", "", errors.Wrap(err, "render pairing code")
	}
	return code, "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// RefreshPairing drops the current link, if any, and starts pairing again.
func (m *Manager) RefreshPairing(ctx context.Context, id string) error {
	e, ok := m.registry.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if e.isDeleting() {
		return errors.Wrap(ErrInvalid, "session is being deleted")
	}
	if conn, _ := e.currentConn(); conn != nil {
		e.mu.RLock()
		paired := e.deviceJID != ""
		e.mu.RUnlock()
		if paired {
			if err := conn.Logout(ctx); err != nil {
				zap.L().Warn("session: logout before refresh failed", zap.String("session_id", id), zap.Error(err))
			}
			m.applyLogout(e)
		}
	}
	return m.Start(ctx, id)
}

// SendText sends a text message and reports the acknowledgement to the send webhook.
func (m *Manager) SendText(ctx context.Context, id, to, text string) (*message.SendAck, error) {
	to = strings.TrimSpace(to)
	if len(to) < 3 {
		return nil, errors.Wrap(ErrInvalid, "recipient must be at least 3 characters")
	}
	if text == "" {
		return nil, errors.Wrap(ErrInvalid, "text must not be empty")
	}
	e, ok := m.registry.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	conn, _ := e.currentConn()
	if conn == nil || e.getState() != StateConnected {
		return nil, ErrNotConnected
	}
	msgID, ts, err := conn.SendText(ctx, to, text)
	if err != nil {
		return nil, errors.Wrapf(err, "send from session %s", id)
	}
	ack := &message.SendAck{
		SessionID:  id,
		MessageID:  msgID,
		To:         to,
		Status:     message.StatusName(message.StatusSent),
		OccurredAt: ts,
	}
	m.submit(func() {
		_ = m.dispatcher.Dispatch(e.ctx, id, domain.WebhookSend, ack)
	})
	return ack, nil
}

// UpdateWebhooks replaces every category endpoint of the session.
func (m *Manager) UpdateWebhooks(ctx context.Context, id string, ep domain.WebhookEndpoints) (Session, error) {
	for _, c := range domain.WebhookCategories {
		if err := validateEndpoint(ep.For(c)); err != nil {
			return Session{}, errors.Wrapf(ErrInvalid, "%s webhook: %v", c, err)
		}
	}
	e, ok := m.registry.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	if err := m.repo.Update(ctx, id, ep.Fields()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Session{}, err
	}
	e.mu.Lock()
	e.webhooks = ep
	e.mu.Unlock()
	return e.snapshot(), nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("unsupported url %q", raw)
	}
	return nil
}

// Logout unlinks the device and leaves the session in LOGGED_OUT.
func (m *Manager) Logout(ctx context.Context, id string) error {
	e, ok := m.registry.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if e.isDeleting() {
		return nil
	}
	if conn, _ := e.currentConn(); conn != nil {
		if err := conn.Logout(ctx); err != nil {
			zap.L().Warn("session: logout request failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	m.applyLogout(e)
	return nil
}

// Delete tears the session down. Further events and reconnect attempts are suppressed.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, ok := m.registry.lookup(id)
	if !ok {
		// a record the registry never loaded is still removable
		rec, err := m.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if rec.DeviceJid != "" && m.creds != nil {
			if err := m.creds.Wipe(ctx, rec.DeviceJid); err != nil {
				zap.L().Warn("session: credential wipe failed", zap.String("session_id", id), zap.Error(err))
			}
		}
		return m.repo.Delete(ctx, id)
	}
	if !e.tryBeginDelete() {
		zap.L().Info("session: delete already in progress", zap.String("session_id", id))
		return nil
	}
	m.transition(e, StateDeleting)
	e.cancel()

	old, _ := e.beginGeneration()
	if old != nil {
		if err := old.Logout(ctx); err != nil {
			zap.L().Warn("session: logout during delete failed", zap.String("session_id", id), zap.Error(err))
			old.Disconnect()
		}
	}
	e.mu.RLock()
	deviceJID := e.deviceJID
	e.mu.RUnlock()
	if deviceJID != "" && m.creds != nil {
		if err := m.creds.Wipe(ctx, deviceJID); err != nil {
			zap.L().Warn("session: credential wipe failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		zap.L().Warn("session: delete record failed", zap.String("session_id", id), zap.Error(err))
	}
	m.transition(e, StateDeleted)
	m.registry.Remove(id)
	zap.L().Info("session: deleted", zap.String("session_id", id))
	return nil
}

// Recover loads every persisted session and restarts the ones marked connected.
func (m *Manager) Recover(ctx context.Context) error {
	recs, err := m.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	var ids []string
	for _, rec := range recs {
		e, created := m.registry.getOrCreate(rec.ID, rec.Name)
		if created {
			e.mu.Lock()
			e.deviceJID = rec.DeviceJid
			e.pairingCode = rec.PairingCode
			e.webhooks = rec.Webhooks()
			if rec.DeviceJid != "" {
				e.state = StateDisconnected
			}
			e.mu.Unlock()
		}
		if rec.Connected {
			ids = append(ids, rec.ID)
		}
	}
	zap.L().Info("session: recovering sessions",
		zap.Int("total", len(recs)), zap.Int("connected", len(ids)),
		zap.Int("concurrency", m.opts.RecoveryConcurrency))

	start := func(id string) {
		if err := m.Start(ctx, id); err != nil {
			zap.L().Warn("session: recovery start failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	if m.opts.RecoveryConcurrency <= 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			start(id)
		}
		return nil
	}

	pool, err := ants.NewPool(m.opts.RecoveryConcurrency)
	if err != nil {
		return errors.Wrap(err, "create recovery pool")
	}
	defer pool.Release()
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			start(id)
		}); err != nil {
			wg.Done()
			zap.L().Warn("session: recovery submit failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	wg.Wait()
	return nil
}

// Shutdown disconnects every session without changing persisted state.
func (m *Manager) Shutdown() {
	for _, s := range m.registry.List() {
		e, ok := m.registry.lookup(s.ID)
		if !ok {
			continue
		}
		if old, _ := e.beginGeneration(); old != nil {
			old.Disconnect()
		}
	}
	m.bus.WaitAsync()
	if m.pool != nil {
		m.pool.Release()
	}
}
