package wa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"hapshi-bot/internal/chat"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func message(text string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     types.NewJID("120363", types.GroupServer),
				Sender:   types.NewJID("972500000000", types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID: "3EB0ABC",
		},
		Message: &waProto.Message{Conversation: proto.String(text)},
	}
}

func TestEventFromMessage(t *testing.T) {
	ev, ok := eventFromMessage(message("חפשי לי מטען", false))
	if !ok {
		t.Fatal("expected event")
	}
	want := chat.Event{
		ChatID:    "120363@g.us",
		SenderID:  "972500000000@s.whatsapp.net",
		Text:      "חפשי לי מטען",
		Type:      chat.TypeIncoming,
		MessageID: "3EB0ABC",
	}
	if ev != want {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestEventFromOwnMessageIsNotIncoming(t *testing.T) {
	ev, ok := eventFromMessage(message("בדיקה", true))
	if !ok || ev.Type == chat.TypeIncoming {
		t.Fatalf("own messages must not be incoming, got %+v", ev)
	}
}

func TestEventFromExtendedText(t *testing.T) {
	evt := message("", false)
	evt.Message = &waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("בדיקה")}}
	ev, ok := eventFromMessage(evt)
	if !ok || ev.Text != "בדיקה" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestEventWithoutTextIsDropped(t *testing.T) {
	if _, ok := eventFromMessage(message("  ", false)); ok {
		t.Fatal("blank text must be dropped")
	}
	if _, ok := eventFromMessage(&events.Message{}); ok {
		t.Fatal("nil message must be dropped")
	}
}

func TestToJID(t *testing.T) {
	cases := map[string]string{
		"972500000000@c.us":           "972500000000@s.whatsapp.net",
		"972500000000@s.whatsapp.net": "972500000000@s.whatsapp.net",
		"120363@g.us":                 "120363@g.us",
	}
	for in, want := range cases {
		jid, err := toJID(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if jid.String() != want {
			t.Fatalf("%s: expected %s, got %s", in, want, jid.String())
		}
	}
	if _, err := toJID("@g.us"); err == nil {
		t.Fatal("expected error for missing user")
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, mimeType, err := fetchImage(context.Background(), srv.Client(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mimeType != "image/png" || len(data) != len(pngHeader) {
		t.Fatalf("unexpected image %s/%d", mimeType, len(data))
	}
	if _, _, err := fetchImage(context.Background(), srv.Client(), srv.URL+"/page"); err == nil {
		t.Fatal("expected error for html body")
	}
	if _, _, err := fetchImage(context.Background(), srv.Client(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}
