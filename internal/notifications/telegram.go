package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	token  string
	chatID string
	api    string
	client *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		api:    defaultAPI,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether the notifier has credentials to send with
func (t *TelegramNotifier) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

func (t *TelegramNotifier) SendAlert(level, message string) error {
	if !t.Enabled() {
		return nil
	}

	emoji := "ℹ️"
	switch level {
	case "warning":
		emoji = "⚠️"
	case "error":
		emoji = "🚨"
	case "success":
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *Trader Alert*\n\n%s", emoji, message)

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	resp, err := t.client.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
