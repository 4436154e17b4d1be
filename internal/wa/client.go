// Package wa is the direct WhatsApp gateway driver built on whatsmeow. It
// turns inbound messages into chat events and implements chat.Messenger.
package wa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hapshi-bot/internal/chat"
	"hapshi-bot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

const maxImageBytes = 8 << 20

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	// MediaTimeout bounds image downloads.
	MediaTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Client wraps the WhatsMeow client and associated dependencies.
type Client struct {
	client     *whatsmeow.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	http       *http.Client
	dispatcher chat.Dispatcher
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 65 * time.Second
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
		http:    &http.Client{Timeout: cfg.MediaTimeout},
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetDispatcher registers the receiver of inbound events.
func (c *Client) SetDispatcher(d chat.Dispatcher) {
	c.dispatcher = d
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	ev, ok := eventFromMessage(evt)
	if !ok {
		return
	}
	c.logger.Debug("received message", "chat_id", ev.ChatID, "from", ev.SenderID, "type", ev.Type)
	if c.metrics != nil {
		c.metrics.WebhookEvents.WithLabelValues("whatsmeow").Inc()
	}
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(ev)
	}
}

// eventFromMessage converts a whatsmeow message into a chat event. Messages
// carrying no text are dropped.
func eventFromMessage(evt *events.Message) (chat.Event, bool) {
	if evt == nil || evt.Message == nil {
		return chat.Event{}, false
	}
	msg := evt.Message
	var text string
	switch {
	case msg.GetConversation() != "":
		text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		text = msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		text = msg.GetImageMessage().GetCaption()
	}
	if strings.TrimSpace(text) == "" {
		return chat.Event{}, false
	}

	ev := chat.Event{
		ChatID:    evt.Info.Chat.String(),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		Text:      text,
		Type:      chat.TypeIncoming,
		MessageID: string(evt.Info.ID),
	}
	if evt.Info.IsFromMe {
		ev.Type = "outgoingMessage"
	}
	return ev, true
}

// toJID accepts whatsmeow JIDs and Green-API style "@c.us" chat ids.
func toJID(chatID string) (types.JID, error) {
	chatID = strings.TrimSpace(chatID)
	if user, ok := strings.CutSuffix(chatID, "@c.us"); ok {
		chatID = user + "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	if jid.User == "" {
		return types.JID{}, fmt.Errorf("parse chat id %q: missing user", chatID)
	}
	return jid, nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// SendText sends a text message to the specified chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	to, err := toJID(chatID)
	if err != nil {
		return err
	}
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		c.record("text", "error")
		return fmt.Errorf("send text: %w", err)
	}
	c.record("text", "ok")
	return nil
}

// SendImage downloads imageURL, uploads it to WhatsApp and sends it with
// caption to the specified chat.
func (c *Client) SendImage(ctx context.Context, chatID, imageURL, caption string) error {
	to, err := toJID(chatID)
	if err != nil {
		return err
	}
	data, mimeType, err := fetchImage(ctx, c.http, imageURL)
	if err != nil {
		c.record("image", "error")
		return err
	}
	uploadResp, err := c.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		c.record("image", "error")
		return fmt.Errorf("upload image: %w", err)
	}

	imageMsg := &waProto.ImageMessage{
		URL:           proto.String(uploadResp.URL),
		DirectPath:    proto.String(uploadResp.DirectPath),
		MediaKey:      uploadResp.MediaKey,
		FileEncSHA256: uploadResp.FileEncSHA256,
		FileSHA256:    uploadResp.FileSHA256,
		FileLength:    proto.Uint64(uploadResp.FileLength),
		Mimetype:      proto.String(mimeType),
	}
	if caption != "" {
		imageMsg.Caption = proto.String(caption)
	}

	message := &waProto.Message{
		ImageMessage: imageMsg,
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		c.record("image", "error")
		return fmt.Errorf("send image: %w", err)
	}
	c.record("image", "ok")
	return nil
}

// fetchImage downloads an image and reports its mime type.
func fetchImage(ctx context.Context, client *http.Client, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new image request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, "", fmt.Errorf("download image: status %d", res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("download image: empty body")
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("download image: too large")
	}

	mimeType := res.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("download image: unexpected content type %q", mimeType)
	}
	return data, mimeType, nil
}

func (c *Client) record(kind, status string) {
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(kind, status).Inc()
	}
}
