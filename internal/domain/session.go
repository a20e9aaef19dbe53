package domain

import "time"

// WebhookCategory names a class of outbound callback.
type WebhookCategory string

const (
	WebhookReceive WebhookCategory = "receive" // inbound message
	WebhookSend    WebhookCategory = "send"    // send acknowledgement
	WebhookStatus  WebhookCategory = "status"  // delivery-status update
	WebhookSession WebhookCategory = "session" // lifecycle change
)

// WebhookCategories lists every category in a stable order.
var WebhookCategories = []WebhookCategory{WebhookReceive, WebhookSend, WebhookStatus, WebhookSession}

// WebhookEndpoints maps each category to a callback URL. Empty means not configured.
type WebhookEndpoints struct {
	Receive string `json:"receive" mapstructure:"webhook_receive"`
	Send    string `json:"send" mapstructure:"webhook_send"`
	Status  string `json:"status" mapstructure:"webhook_status"`
	Session string `json:"session" mapstructure:"webhook_session"`
}

// For returns the endpoint configured for c.
func (w WebhookEndpoints) For(c WebhookCategory) string {
	switch c {
	case WebhookReceive:
		return w.Receive
	case WebhookSend:
		return w.Send
	case WebhookStatus:
		return w.Status
	case WebhookSession:
		return w.Session
	}
	return ""
}

// Fields returns the persistence columns for the endpoints.
func (w WebhookEndpoints) Fields() map[string]interface{} {
	return map[string]interface{}{
		FieldWebhookReceive: w.Receive,
		FieldWebhookSend:    w.Send,
		FieldWebhookStatus:  w.Status,
		FieldWebhookSession: w.Session,
	}
}

// Column names accepted by the session repository field maps.
const (
	FieldName           = "name"
	FieldPairingCode    = "pairing_code"
	FieldConnected      = "connected"
	FieldDeviceJid      = "device_jid"
	FieldWebhookReceive = "webhook_receive"
	FieldWebhookSend    = "webhook_send"
	FieldWebhookStatus  = "webhook_status"
	FieldWebhookSession = "webhook_session"
)

// WaSession is the durable mirror of a messaging session.
type WaSession struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64" mapstructure:"id"`
	Name           string    `json:"name" gorm:"size:200" mapstructure:"name"`
	PairingCode    string    `json:"pairing_code" gorm:"type:text" mapstructure:"pairing_code"`
	Connected      bool      `json:"connected" gorm:"index" mapstructure:"connected"`
	DeviceJid      string    `json:"device_jid" gorm:"size:128" mapstructure:"device_jid"` // populated after pairing
	WebhookReceive string    `json:"webhook_receive" gorm:"size:1024" mapstructure:"webhook_receive"`
	WebhookSend    string    `json:"webhook_send" gorm:"size:1024" mapstructure:"webhook_send"`
	WebhookStatus  string    `json:"webhook_status" gorm:"size:1024" mapstructure:"webhook_status"`
	WebhookSession string    `json:"webhook_session" gorm:"size:1024" mapstructure:"webhook_session"`
	CreatedAt      time.Time `json:"created_at" mapstructure:"-"`
	UpdatedAt      time.Time `json:"updated_at" mapstructure:"-"`
}

func (WaSession) TableName() string {
	return "wa_session"
}

func (s WaSession) Webhooks() WebhookEndpoints {
	return WebhookEndpoints{
		Receive: s.WebhookReceive,
		Send:    s.WebhookSend,
		Status:  s.WebhookStatus,
		Session: s.WebhookSession,
	}
}
