package whatsapp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// conn adapts a whatsmeow client to session.Conn.
type conn struct {
	sessionID string
	client    *whatsmeow.Client
	emit      func(session.Event)

	// qrCancel stops the pairing watcher of the current Connect
	mu       sync.Mutex
	qrCancel context.CancelFunc
}

// Connect dials the server. An unpaired device gets a QR channel first, as
// whatsmeow requires.
func (c *conn) Connect() error {
	if c.client.Store.ID == nil {
		ctx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			cancel()
			return errors.Wrap(err, "open pairing channel")
		}
		c.mu.Lock()
		c.qrCancel = cancel
		c.mu.Unlock()
		go c.watchPairing(qrChan)
	}
	if err := c.client.Connect(); err != nil {
		c.stopPairing()
		return errors.Wrap(err, "connect")
	}
	return nil
}

func (c *conn) watchPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if evt, ok := pairingEvent(item); ok {
			c.emit(evt)
		}
	}
}

// pairingEvent maps a QR channel item; success is reported through PairSuccess instead.
func pairingEvent(item whatsmeow.QRChannelItem) (session.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return session.PairingCode{Code: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return nil, false
	case whatsmeow.QRChannelTimeout.Event:
		return session.Closed{Reason: session.ReasonPairingTimeout}, true
	default:
		if item.Error != nil {
			zap.L().Warn("whatsapp: pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
		}
		return session.Closed{Reason: session.ReasonConnectFailure}, true
	}
}

func (c *conn) stopPairing() {
	c.mu.Lock()
	cancel := c.qrCancel
	c.qrCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *conn) Disconnect() {
	c.stopPairing()
	c.client.Disconnect()
}

func (c *conn) Logout(ctx context.Context) error {
	c.stopPairing()
	if c.client.Store.ID == nil {
		c.client.Disconnect()
		return nil
	}
	if err := c.client.Logout(ctx); err != nil {
		return errors.Wrap(err, "logout")
	}
	return nil
}

func (c *conn) SendText(ctx context.Context, to, text string) (string, time.Time, error) {
	jid, err := recipientJID(to)
	if err != nil {
		return "", time.Time{}, err
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		zap.L().Warn("whatsapp: send message failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return "", time.Time{}, errors.Wrap(err, "send message")
	}
	return string(resp.ID), resp.Timestamp, nil
}

func (c *conn) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return c.client.Download(ctx, msg)
}

// recipientJID accepts a full JID or a bare phone number.
func recipientJID(to string) (waTypes.JID, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		jid, err := waTypes.ParseJID(to)
		if err != nil {
			return waTypes.JID{}, errors.Wrapf(err, "invalid recipient %q", to)
		}
		return jid, nil
	}
	user := strings.TrimPrefix(to, "+")
	if user == "" {
		return waTypes.JID{}, errors.Errorf("invalid recipient %q", to)
	}
	return waTypes.NewJID(user, waTypes.DefaultUserServer), nil
}

func (c *conn) handleEvent(evt interface{}) {
	var jid string
	if id := c.client.Store.ID; id != nil {
		jid = id.ToNonAD().String()
	}
	if out, ok := translate(evt, jid); ok {
		if _, opened := out.(session.Opened); opened {
			c.stopPairing()
		}
		c.emit(out)
	}
}

// translate maps a whatsmeow event onto the closed session event set.
// deviceJID is the client's current identity, empty while unpaired.
func translate(evt interface{}, deviceJID string) (session.Event, bool) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		return session.Paired{DeviceJID: e.ID.ToNonAD().String()}, true
	case *events.Connected:
		return session.Opened{DeviceJID: deviceJID}, true
	case *events.LoggedOut:
		return session.Closed{Reason: session.ReasonLoggedOut}, true
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return session.Closed{Reason: session.ReasonLoggedOut}, true
		}
		return session.Closed{Reason: session.ReasonConnectFailure}, true
	case *events.StreamReplaced:
		return session.Closed{Reason: session.ReasonReplaced}, true
	case *events.TemporaryBan, *events.ClientOutdated:
		return session.Closed{Reason: session.ReasonConnectFailure}, true
	case *events.Disconnected:
		return session.Closed{Reason: session.ReasonConnectionLost}, true
	case *events.Message:
		return session.InboundMessage{Message: e}, true
	case *events.Receipt:
		return session.DeliveryReceipt{Receipt: e}, true
	}
	return nil, false
}
