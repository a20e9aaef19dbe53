package message

import (
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// StatusCode is the delivery progress of an outbound message.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusPending
	StatusSent
	StatusDelivered
	StatusRead
	StatusPlayed
)

// Normalized status strings.
const (
	StatusNamePending   = "pending"
	StatusNameSent      = "sent"
	StatusNameDelivered = "delivered"
	StatusNameRead      = "read"
	StatusNamePlayed    = "played"
)

// StatusName maps a code to its normalized string. Unknown codes are reported
// as delivered, matching the historical behavior callers depend on.
func StatusName(code StatusCode) string {
	switch code {
	case StatusPending:
		return StatusNamePending
	case StatusSent:
		return StatusNameSent
	case StatusDelivered:
		return StatusNameDelivered
	case StatusRead:
		return StatusNameRead
	case StatusPlayed:
		return StatusNamePlayed
	default:
		return StatusNameDelivered
	}
}

// ReceiptStatus maps a receipt type to a status code. ok is false for receipts that
// carry no delivery progress (retries, history sync, peer messages).
func ReceiptStatus(t types.ReceiptType) (code StatusCode, ok bool) {
	switch t {
	case types.ReceiptTypeDelivered, types.ReceiptTypeSender:
		return StatusDelivered, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return StatusRead, true
	case types.ReceiptTypePlayed, types.ReceiptTypePlayedSelf:
		return StatusPlayed, true
	case types.ReceiptTypeRetry, types.ReceiptTypeHistorySync, types.ReceiptTypePeerMsg:
		return StatusUnknown, false
	default:
		return StatusUnknown, true
	}
}

// NormalizeReceipt converts a receipt into a StatusUpdate. Receipts for group chats,
// broadcasts and non-progress types are dropped.
func NormalizeReceipt(sessionID string, evt *events.Receipt) (*StatusUpdate, bool) {
	if evt == nil || len(evt.MessageIDs) == 0 || isFilteredChat(evt.Chat) {
		return nil, false
	}
	code, ok := ReceiptStatus(evt.Type)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		ids = append(ids, string(id))
	}
	return &StatusUpdate{
		SessionID:           sessionID,
		Status:              StatusName(code),
		MessageIDs:          ids,
		OccurredAt:          evt.Timestamp,
		CounterpartyAddress: evt.Chat.User,
	}, true
}
