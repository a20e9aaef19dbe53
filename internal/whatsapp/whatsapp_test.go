package whatsapp

import (
	"testing"

	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTranslateLifecycleEvents(t *testing.T) {
	paired := &events.PairSuccess{ID: waTypes.NewADJID("15550001", 0, 3)}
	cases := []struct {
		name string
		in   interface{}
		want session.Event
	}{
		{"pair success", paired, session.Paired{DeviceJID: "15550001@s.whatsapp.net"}},
		{"connected", &events.Connected{}, session.Opened{DeviceJID: "15550001@s.whatsapp.net"}},
		{"logged out", &events.LoggedOut{}, session.Closed{Reason: session.ReasonLoggedOut}},
		{"connect failure logout", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, session.Closed{Reason: session.ReasonLoggedOut}},
		{"connect failure other", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, session.Closed{Reason: session.ReasonConnectFailure}},
		{"stream replaced", &events.StreamReplaced{}, session.Closed{Reason: session.ReasonReplaced}},
		{"disconnected", &events.Disconnected{}, session.Closed{Reason: session.ReasonConnectionLost}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := translate(tc.in, "15550001@s.whatsapp.net")
			if !ok || got != tc.want {
				t.Fatalf("got %#v %v, want %#v", got, ok, tc.want)
			}
		})
	}
}

func TestTranslatePassesMessagesThrough(t *testing.T) {
	msg := &events.Message{}
	got, ok := translate(msg, "")
	if in, isMsg := got.(session.InboundMessage); !ok || !isMsg || in.Message != msg {
		t.Fatalf("message: %#v", got)
	}
	rcpt := &events.Receipt{}
	got, ok = translate(rcpt, "")
	if r, isRcpt := got.(session.DeliveryReceipt); !ok || !isRcpt || r.Receipt != rcpt {
		t.Fatalf("receipt: %#v", got)
	}
	if _, ok := translate(&events.PushName{}, ""); ok {
		t.Fatal("unrelated event translated")
	}
}

func TestPairingEvent(t *testing.T) {
	evt, ok := pairingEvent(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc"})
	if !ok || evt != (session.PairingCode{Code: "2@abc"}) {
		t.Fatalf("code: %#v", evt)
	}
	if _, ok := pairingEvent(whatsmeow.QRChannelSuccess); ok {
		t.Fatal("success should not be reported")
	}
	evt, _ = pairingEvent(whatsmeow.QRChannelTimeout)
	if evt != (session.Closed{Reason: session.ReasonPairingTimeout}) {
		t.Fatalf("timeout: %#v", evt)
	}
	evt, _ = pairingEvent(whatsmeow.QRChannelClientOutdated)
	if evt != (session.Closed{Reason: session.ReasonConnectFailure}) {
		t.Fatalf("outdated: %#v", evt)
	}
}

func TestRecipientJID(t *testing.T) {
	cases := map[string]string{
		"15550002":                "15550002@s.whatsapp.net",
		"+15550002":               "15550002@s.whatsapp.net",
		"15550002@s.whatsapp.net": "15550002@s.whatsapp.net",
	}
	for in, want := range cases {
		jid, err := recipientJID(in)
		if err != nil || jid.String() != want {
			t.Errorf("%q: got %s %v", in, jid, err)
		}
	}
	if _, err := recipientJID("+"); err == nil {
		t.Error("empty recipient accepted")
	}
}

func TestStoreDriver(t *testing.T) {
	for in, want := range map[string]string{"postgres": "postgres", "PostgreSQL": "postgres", "sqlite": "sqlite3", "": "sqlite3"} {
		if got := storeDriver(in); got != want {
			t.Errorf("%q: got %s", in, got)
		}
	}
}

func TestLoggerRoutesToZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := newLogger("client").Sub("socket")
	l.Infof("dialing %s", "web.whatsapp.com")
	l.Debugf("frame %d", 1)
	l.Warnf("slow")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Message != "dialing web.whatsapp.com" {
		t.Fatalf("message = %q", entries[0].Message)
	}
	if m := entries[0].ContextMap()["module"]; m != "client/socket" {
		t.Fatalf("module = %v", m)
	}
}
