package greenapi

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"hapshi-bot/internal/chat"
	"hapshi-bot/internal/metrics"
	"hapshi-bot/internal/probe"
)

const maxWebhookBody = 2 << 20

// Field locations in Green-API notifications, highest priority first.
var (
	chatIDPaths = []probe.Path{
		{"senderData", "chatId"},
		{"chatId"},
		{"messageData", "chatId"},
	}
	senderPaths = []probe.Path{
		{"senderData", "sender"},
		{"senderData", "chatId"},
	}
	textPaths = []probe.Path{
		{"messageData", "textMessageData", "textMessage"},
		{"messageData", "extendedTextMessageData", "text"},
		{"messageData", "quotedMessage", "textMessageData", "textMessage"},
		{"messageData", "quotedMessage", "extendedTextMessageData", "text"},
		{"text"},
	}
	typePaths      = []probe.Path{{"typeWebhook"}}
	messageIDPaths = []probe.Path{{"idMessage"}, {"messageData", "idMessage"}}
)

// ParseEvent extracts an event from a notification body. It never fails:
// malformed JSON or missing fields produce empty strings.
func ParseEvent(body []byte) chat.Event {
	doc, err := probe.Decode(body)
	if err != nil {
		return chat.Event{}
	}
	return chat.Event{
		ChatID:    probe.FirstString(doc, chatIDPaths...),
		SenderID:  probe.FirstString(doc, senderPaths...),
		Text:      probe.FirstString(doc, textPaths...),
		Type:      probe.FirstString(doc, typePaths...),
		MessageID: probe.FirstString(doc, messageIDPaths...),
	}
}

// WebhookHandler acknowledges Green-API notifications immediately and hands
// the parsed event to a dispatcher for background processing.
type WebhookHandler struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	token      string
	dispatcher chat.Dispatcher
}

// NewWebhookHandler creates a new webhook handler. An empty token disables
// the Authorization check.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, token string, dispatcher chat.Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		logger:     logger.With("component", "greenapi_webhook"),
		metrics:    metrics,
		token:      strings.TrimSpace(token),
		dispatcher: dispatcher,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		h.count("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	_ = r.Body.Close()
	if err != nil {
		h.logger.Warn("failed reading webhook body", "error", err)
	}
	event := ParseEvent(body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h.logger.Debug("webhook received", "type", event.Type, "chat_id", event.ChatID, "message_id", event.MessageID)
	h.count("accepted")
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(event)
	}
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *WebhookHandler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}
