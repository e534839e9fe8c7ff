package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/shopdesk/shopdesk/internal/pkg/httpretry"
)

// TelegramClient sends messages through the Telegram bot API.
type TelegramClient struct {
	botToken string
	baseURL  string
	http     httpretry.HTTPDoer
}

// NewTelegramClient creates a Telegram client with retrying transport.
func NewTelegramClient(botToken, baseURL string) *TelegramClient {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramClient{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpretry.NewRetryClient(nil, 3),
	}
}

// Send posts a message to the given chat. Returns the Telegram message id.
func (c *TelegramClient) Send(ctx context.Context, chatID, text string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegram error: %s", parsed.Description)
	}

	log.Printf("[Telegram] Sent to chat %s (id: %d)", chatID, parsed.Result.MessageID)
	return fmt.Sprintf("%d", parsed.Result.MessageID), nil
}
