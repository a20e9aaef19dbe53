package message

import (
	"context"

	"github.com/talkincode/wagate/internal/media"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// UnknownSenderName is used when the sender has no push name.
const UnknownSenderName = "Unknown"

// MediaResolver stores an attachment and returns its URL, or "" on failure.
type MediaResolver interface {
	Resolve(ctx context.Context, dl media.Downloader, messageID string, att whatsmeow.DownloadableMessage, mimeType string) string
}

// Normalizer converts whatsmeow message events into canonical messages.
type Normalizer struct {
	media MediaResolver
	// suppressOnMediaFailure drops messages whose attachment could not be stored
	suppressOnMediaFailure bool
}

func NewNormalizer(resolver MediaResolver, suppressOnMediaFailure bool) *Normalizer {
	return &Normalizer{media: resolver, suppressOnMediaFailure: suppressOnMediaFailure}
}

// kind identifies the content carried by a raw message.
type kind string

const (
	kindNone          kind = ""
	kindConversation  kind = "conversation"
	kindExtendedText  kind = "extendedTextMessage"
	kindLocation      kind = "locationMessage"
	kindLiveLocation  kind = "liveLocationMessage"
	kindDocument      kind = "documentMessage"
	kindImage         kind = "imageMessage"
	kindAudio         kind = "audioMessage"
	kindContact       kind = "contactMessage"
	kindContactsArray kind = "contactsArrayMessage"
	kindVideo         kind = "videoMessage"
	kindSticker       kind = "stickerMessage"
	kindPoll          kind = "pollCreationMessage"
	kindSenderKey     kind = "senderKeyDistributionMessage"
	kindProtocol      kind = "protocolMessage"
	kindReaction      kind = "reactionMessage"
	kindEphemeral     kind = "ephemeralMessage"
	kindUnknown       kind = "unknown"
)

var ignoredKinds = map[kind]bool{
	kindSenderKey: true,
	kindProtocol:  true,
	kindReaction:  true,
	kindEphemeral: true,
}

// classify returns the content kind of msg. Content kinds win over the control kinds
// that may ride along on the same message.
func classify(msg *waE2E.Message) kind {
	switch {
	case msg == nil:
		return kindNone
	case msg.Conversation != nil:
		return kindConversation
	case msg.GetExtendedTextMessage() != nil:
		return kindExtendedText
	case msg.GetLocationMessage() != nil:
		return kindLocation
	case msg.GetLiveLocationMessage() != nil:
		return kindLiveLocation
	case msg.GetDocumentMessage() != nil:
		return kindDocument
	case msg.GetImageMessage() != nil:
		return kindImage
	case msg.GetAudioMessage() != nil:
		return kindAudio
	case msg.GetContactMessage() != nil:
		return kindContact
	case msg.GetContactsArrayMessage() != nil:
		return kindContactsArray
	case msg.GetVideoMessage() != nil:
		return kindVideo
	case msg.GetStickerMessage() != nil:
		return kindSticker
	case msg.GetPollCreationMessage() != nil:
		return kindPoll
	case msg.GetProtocolMessage() != nil:
		return kindProtocol
	case msg.GetReactionMessage() != nil:
		return kindReaction
	case msg.GetEphemeralMessage() != nil:
		return kindEphemeral
	case msg.GetSenderKeyDistributionMessage() != nil:
		return kindSenderKey
	default:
		return kindUnknown
	}
}

// isFilteredChat reports chats whose events are never forwarded: groups,
// broadcast lists (including status@broadcast) and newsletters.
func isFilteredChat(chat types.JID) bool {
	switch chat.Server {
	case types.GroupServer, types.BroadcastServer, types.NewsletterServer:
		return true
	}
	return false
}

// Normalize converts evt into a canonical message. ok is false when the event is
// filtered out and must not reach any webhook.
func (n *Normalizer) Normalize(ctx context.Context, sessionID string, evt *events.Message, dl media.Downloader) (msg *Message, ok bool) {
	if evt == nil || evt.Message == nil {
		return nil, false
	}
	if isFilteredChat(evt.Info.Chat) {
		return nil, false
	}
	// whatsmeow unwraps disappearing messages before they get here, so the
	// wrapper only ever shows up as this flag
	if evt.IsEphemeral {
		return nil, false
	}
	k := classify(evt.Message)
	if k == kindNone || ignoredKinds[k] {
		return nil, false
	}

	name := evt.Info.PushName
	if name == "" {
		name = UnknownSenderName
	}
	msg = &Message{
		SessionID:           sessionID,
		MessageID:           string(evt.Info.ID),
		CounterpartyAddress: evt.Info.Chat.User,
		// whatsmeow reports origin as a plain bool; a missing flag decodes to false.
		FromSelf:          evt.Info.IsFromMe,
		OccurredAt:        evt.Info.Timestamp,
		SenderDisplayName: name,
	}

	raw := evt.Message
	mediaFailed := false
	resolve := func(att whatsmeow.DownloadableMessage, mimeType string) string {
		if n.media == nil {
			mediaFailed = true
			return ""
		}
		url := n.media.Resolve(ctx, dl, msg.MessageID, att, mimeType)
		if url == "" {
			mediaFailed = true
		}
		return url
	}

	switch k {
	case kindConversation:
		msg.Payload = TextPayload{Message: raw.GetConversation()}
	case kindExtendedText:
		ext := raw.GetExtendedTextMessage()
		msg.Payload = TextPayload{Message: ext.GetText()}
		msg.Forwarded = isForwarded(ext.GetContextInfo())
	case kindLocation:
		loc := raw.GetLocationMessage()
		msg.Payload = locationPayload(loc.GetDegreesLatitude(), loc.GetDegreesLongitude(), loc.GetName(), loc.GetAddress())
		msg.Forwarded = isForwarded(loc.GetContextInfo())
	case kindLiveLocation:
		live := raw.GetLiveLocationMessage()
		msg.Payload = LiveLocationPayload{
			Latitude:       live.GetDegreesLatitude(),
			Longitude:      live.GetDegreesLongitude(),
			AccuracyMeters: live.GetAccuracyInMeters(),
			SpeedMps:       live.GetSpeedInMps(),
			Caption:        live.GetCaption(),
			SequenceNumber: live.GetSequenceNumber(),
		}
	case kindDocument:
		doc := raw.GetDocumentMessage()
		msg.Payload = DocumentPayload{
			MediaURL: resolve(doc, doc.GetMimetype()),
			MimeType: doc.GetMimetype(),
			FileName: doc.GetFileName(),
			Title:    doc.GetTitle(),
			Caption:  doc.GetCaption(),
			Size:     doc.GetFileLength(),
		}
		msg.Forwarded = isForwarded(doc.GetContextInfo())
	case kindImage:
		img := raw.GetImageMessage()
		msg.Payload = ImagePayload{
			MediaURL: resolve(img, img.GetMimetype()),
			MimeType: img.GetMimetype(),
			Caption:  img.GetCaption(),
			Size:     img.GetFileLength(),
			Width:    img.GetWidth(),
			Height:   img.GetHeight(),
		}
		msg.Forwarded = isForwarded(img.GetContextInfo())
	case kindAudio:
		aud := raw.GetAudioMessage()
		msg.Payload = AudioPayload{
			MediaURL: resolve(aud, aud.GetMimetype()),
			MimeType: aud.GetMimetype(),
			Seconds:  aud.GetSeconds(),
			Size:     aud.GetFileLength(),
		}
		msg.Forwarded = isForwarded(aud.GetContextInfo())
	case kindContact:
		c := raw.GetContactMessage()
		msg.Payload = ContactPayload{DisplayName: c.GetDisplayName(), VCard: c.GetVcard()}
	case kindContactsArray:
		arr := raw.GetContactsArrayMessage()
		list := ContactListPayload{DisplayName: arr.GetDisplayName(), Contacts: make([]ContactPayload, 0, len(arr.GetContacts()))}
		for _, c := range arr.GetContacts() {
			list.Contacts = append(list.Contacts, ContactPayload{DisplayName: c.GetDisplayName(), VCard: c.GetVcard()})
		}
		msg.Payload = list
	default:
		msg.Payload = UnspecifiedPayload{Kind: string(k)}
	}

	if mediaFailed && n.suppressOnMediaFailure {
		zap.L().Info("message: dropped after media failure",
			zap.String("session_id", sessionID), zap.String("message_id", msg.MessageID))
		return nil, false
	}
	return msg, true
}

// locationPayload treats a pin without a place name, or a named pin that has
// coordinates but no address, as the sender's current position.
func locationPayload(lat, lng float64, name, address string) LocationPayload {
	mode := LocationManual
	hasCoords := lat != 0 || lng != 0
	if name == "" || (address == "" && hasCoords) {
		mode = LocationCurrent
	}
	return LocationPayload{Mode: mode, Latitude: lat, Longitude: lng, Name: name, Address: address}
}

func isForwarded(ci *waE2E.ContextInfo) bool {
	return ci.GetIsForwarded() || ci.GetForwardingScore() > 0
}
