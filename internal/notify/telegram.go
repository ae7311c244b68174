package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultTelegramURL is the Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramConfig holds configuration for the Telegram sink.
type TelegramConfig struct {
	// Token is the bot token.
	Token string
	// ChatID is the chat receiving the messages.
	ChatID int64
	// BaseURL overrides DefaultTelegramURL.
	BaseURL string
	// Timeout bounds one sendMessage call.
	Timeout time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Telegram sends notifications through the Bot API sendMessage method.
type Telegram struct {
	url    string
	chatID int64
	client *http.Client
	logger *zap.Logger
}

// NewTelegram creates a Telegram sink.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		url:    fmt.Sprintf("%s/bot%s/sendMessage", cfg.BaseURL, cfg.Token),
		chatID: cfg.ChatID,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, msg Message) {
	if err := t.send(ctx, msg); err != nil {
		t.logger.Error("telegram notification", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (t *Telegram) send(ctx context.Context, msg Message) error {
	text := msg.Subject
	if msg.Level == LevelError {
		text = "[ERROR] " + text
	}
	if msg.Body != "" {
		text += "\n\n" + msg.Body
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: strconv.FormatInt(t.chatID, 10), Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result sendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram: HTTP %d: %s", resp.StatusCode, result.Description)
	}
	return nil
}
