package session

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

// Conn is one live protocol connection owned by a session.
type Conn interface {
	// Connect starts the handshake; pairing codes and open/close arrive as events.
	Connect() error
	Disconnect()
	// Logout unlinks the device from the network.
	Logout(ctx context.Context) error
	SendText(ctx context.Context, to, text string) (messageID string, ts time.Time, err error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// Connector opens protocol connections. deviceJID is empty for an unpaired session,
// in which case a fresh credential set is created.
type Connector interface {
	Open(ctx context.Context, sessionID, deviceJID string, handler func(Event)) (Conn, error)
}

// CredentialStore owns pairing material; the core only ever wipes it.
type CredentialStore interface {
	Wipe(ctx context.Context, deviceJID string) error
}

// Event is emitted by a Conn. The set is closed.
type Event interface {
	isEvent()
}

// PairingCode carries a new QR payload for an unpaired session.
type PairingCode struct {
	Code string
}

// Paired is emitted once the device has been linked.
type Paired struct {
	DeviceJID string
}

// Opened is emitted when the connection is authenticated and ready.
type Opened struct {
	DeviceJID string
}

// Closed is emitted when the connection ends for any reason.
type Closed struct {
	Reason CloseReason
}

type InboundMessage struct {
	Message *events.Message
}

type DeliveryReceipt struct {
	Receipt *events.Receipt
}

func (PairingCode) isEvent()     {}
func (Paired) isEvent()          {}
func (Opened) isEvent()          {}
func (Closed) isEvent()          {}
func (InboundMessage) isEvent()  {}
func (DeliveryReceipt) isEvent() {}
