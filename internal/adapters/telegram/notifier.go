// Package telegram delivers trade event messages to a Telegram chat through
// the Bot API sendMessage endpoint.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cryptoMarginBot/internal/ports"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Notifier implements the ports.Notifier interface against the Telegram Bot
// API. Delivery is best-effort: callers decide whether a failed notification
// is worth retrying.
type Notifier struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Telegram notifier adapter.
type Config struct {
	BotToken string
	ChatID   string
	BaseURL  string        // overrides the Bot API host, used in tests
	Timeout  time.Duration // per-request timeout, defaults to 10s
	Logger   ports.Logger
}

// New creates a new Telegram notifier adapter.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("%w: telegram bot token and chat id are required", ports.ErrConfigurationError)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Notifier{
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notify sends a Markdown-formatted message to the configured chat.
func (n *Notifier) Notify(ctx context.Context, msg string) error {
	op := "Notify"

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      msg,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}

	url := n.baseURL + "/bot" + n.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		finalErr := n.transportError(op, err)
		n.logger.Error(ctx, err, op+" failed", map[string]interface{}{"operation": op})
		return finalErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("%s failed: %w: unexpected response %q", op, ports.ErrUnknown, string(body))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		err := fmt.Errorf("%s failed: %w: %s", op, ports.ErrRateLimited, parsed.Description)
		n.logger.Warn(ctx, "Telegram rate limit hit, message dropped", map[string]interface{}{"description": parsed.Description})
		return err
	}
	if !parsed.OK {
		err := fmt.Errorf("%s failed: %w: telegram error %d: %s", op, ports.ErrInvalidRequest, parsed.ErrorCode, parsed.Description)
		n.logger.Error(ctx, err, op+" rejected by Telegram", map[string]interface{}{"errorCode": parsed.ErrorCode})
		return err
	}

	n.logger.Debug(ctx, "Notification delivered", map[string]interface{}{"chatID": n.chatID})
	return nil
}

// transportError classifies request failures the same way the exchange
// adapter does.
func (n *Notifier) transportError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, err)
	default:
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
}
