package message

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Variant tags the populated payload of a Message.
type Variant string

const (
	VariantText         Variant = "text"
	VariantLocation     Variant = "location"
	VariantLiveLocation Variant = "live-location"
	VariantDocument     Variant = "document"
	VariantImage        Variant = "image"
	VariantAudio        Variant = "audio"
	VariantContact      Variant = "contact"
	VariantContactList  Variant = "contact-list"
	VariantStatusUpdate Variant = "status-update"
	VariantUnspecified  Variant = "unspecified"
)

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Variant() Variant
	isPayload()
}

// Message is the canonical, webhook-ready form of an inbound event.
type Message struct {
	SessionID           string
	MessageID           string
	CounterpartyAddress string
	FromSelf            bool
	Forwarded           bool
	OccurredAt          time.Time
	SenderDisplayName   string
	Payload             Payload
}

// Variant returns the tag of the populated payload.
func (m *Message) Variant() Variant {
	if m.Payload == nil {
		return VariantUnspecified
	}
	return m.Payload.Variant()
}

// MarshalJSON writes the common fields, the variant tag and the payload under a key
// named after the variant, so exactly one payload key is ever present.
func (m Message) MarshalJSON() ([]byte, error) {
	doc := map[string]interface{}{
		"sessionId":           m.SessionID,
		"messageId":           m.MessageID,
		"counterpartyAddress": m.CounterpartyAddress,
		"fromSelf":            m.FromSelf,
		"forwarded":           m.Forwarded,
		"occurredAt":          m.OccurredAt.UTC().Format(time.RFC3339Nano),
		"senderDisplayName":   m.SenderDisplayName,
	}
	v := m.Variant()
	doc["variant"] = v
	if m.Payload != nil {
		doc[string(v)] = m.Payload
	} else {
		doc[string(v)] = UnspecifiedPayload{}
	}
	return json.Marshal(doc)
}

type TextPayload struct {
	Message string `json:"message"`
}

// Location modes.
const (
	LocationCurrent = "current" // raw coordinates captured on the device
	LocationManual  = "manual"  // a named place picked by the sender
)

type LocationPayload struct {
	Mode      string  `json:"mode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type LiveLocationPayload struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters uint32  `json:"accuracyMeters,omitempty"`
	SpeedMps       float32 `json:"speedMps,omitempty"`
	Caption        string  `json:"caption,omitempty"`
	SequenceNumber int64   `json:"sequenceNumber,omitempty"`
}

type DocumentPayload struct {
	MediaURL string `json:"mediaUrl"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName,omitempty"`
	Title    string `json:"title,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Size     uint64 `json:"size,omitempty"`
}

type ImagePayload struct {
	MediaURL string `json:"mediaUrl"`
	MimeType string `json:"mimeType"`
	Caption  string `json:"caption,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	Width    uint32 `json:"width,omitempty"`
	Height   uint32 `json:"height,omitempty"`
}

type AudioPayload struct {
	MediaURL string `json:"mediaUrl"`
	MimeType string `json:"mimeType"`
	Seconds  uint32 `json:"seconds,omitempty"`
	Size     uint64 `json:"size,omitempty"`
}

type ContactPayload struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard"`
}

type ContactListPayload struct {
	DisplayName string           `json:"displayName,omitempty"`
	Contacts    []ContactPayload `json:"contacts"`
}

// UnspecifiedPayload carries the raw content kind of messages with no dedicated variant.
type UnspecifiedPayload struct {
	Kind string `json:"kind,omitempty"`
}

// StatusUpdate is the delivery-status document sent to the status webhook.
type StatusUpdate struct {
	SessionID           string    `json:"sessionId"`
	Status              string    `json:"status"`
	MessageIDs          []string  `json:"messageIds"`
	OccurredAt          time.Time `json:"occurredAt"`
	CounterpartyAddress string    `json:"counterpartyAddress"`
}

func (TextPayload) Variant() Variant         { return VariantText }
func (LocationPayload) Variant() Variant     { return VariantLocation }
func (LiveLocationPayload) Variant() Variant { return VariantLiveLocation }
func (DocumentPayload) Variant() Variant     { return VariantDocument }
func (ImagePayload) Variant() Variant        { return VariantImage }
func (AudioPayload) Variant() Variant        { return VariantAudio }
func (ContactPayload) Variant() Variant      { return VariantContact }
func (ContactListPayload) Variant() Variant  { return VariantContactList }
func (StatusUpdate) Variant() Variant        { return VariantStatusUpdate }
func (UnspecifiedPayload) Variant() Variant  { return VariantUnspecified }

func (TextPayload) isPayload()         {}
func (LocationPayload) isPayload()     {}
func (LiveLocationPayload) isPayload() {}
func (DocumentPayload) isPayload()     {}
func (ImagePayload) isPayload()        {}
func (AudioPayload) isPayload()        {}
func (ContactPayload) isPayload()      {}
func (ContactListPayload) isPayload()  {}
func (StatusUpdate) isPayload()        {}
func (UnspecifiedPayload) isPayload()  {}

// SendAck is the document sent to the send webhook after an outbound message is accepted.
type SendAck struct {
	SessionID  string    `json:"sessionId"`
	MessageID  string    `json:"messageId"`
	To         string    `json:"to"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}
