package greenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hapshi-bot/internal/metrics"
)

const (
	defaultBaseURL = "https://api.green-api.com"
	imageFileName  = "product.jpg"
	maxErrorBody   = 300
)

// Config holds Green-API credentials and timeouts.
type Config struct {
	BaseURL      string
	InstanceID   string
	Token        string
	TextTimeout  time.Duration
	MediaTimeout time.Duration
	// HTTPClient overrides the default transport; per-call timeouts still apply.
	HTTPClient *http.Client
}

// Client sends messages through a Green-API WhatsApp instance.
type Client struct {
	logger  *slog.Logger
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a new Green-API client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 45 * time.Second
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 65 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		logger:  logger.With("component", "greenapi"),
		cfg:     cfg,
		http:    httpClient,
		metrics: metrics,
	}
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendFileByURLRequest struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID, body string) error {
	err := c.post(ctx, "sendMessage", c.cfg.TextTimeout, sendMessageRequest{ChatID: chatID, Message: body})
	c.record("text", err)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendImage sends an image by URL with caption as its text.
func (c *Client) SendImage(ctx context.Context, chatID, imageURL, caption string) error {
	err := c.post(ctx, "sendFileByUrl", c.cfg.MediaTimeout, sendFileByURLRequest{
		ChatID:   chatID,
		URLFile:  imageURL,
		FileName: imageFileName,
		Caption:  caption,
	})
	c.record("image", err)
	if err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, timeout time.Duration, payload any) error {
	if c.cfg.InstanceID == "" || c.cfg.Token == "" {
		return fmt.Errorf("green-api credentials not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/waInstance%s/%s/%s", c.cfg.BaseURL, c.cfg.InstanceID, method, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		// the url embeds the api token
		return fmt.Errorf("green-api %s request failed: %w", method, redact(err, c.cfg.Token))
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if res.StatusCode >= 400 {
		return fmt.Errorf("green-api %s: status=%d body=%s", method, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) record(kind string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.OutgoingMessages.WithLabelValues(kind, status).Inc()
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}
