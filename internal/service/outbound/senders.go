package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/model"
)

// Sender delivers one outbound message to a provider and returns the
// provider's message id. Sends are user-interactive, so implementations make
// a single attempt with a short timeout and never retry.
type Sender interface {
	Send(ctx context.Context, creds model.ChannelCredentialItem, conv model.ConversationItem, content string) (string, error)
}

const sendTimeout = 8 * time.Second

// whatsappSender posts through the session gateway that also owns the
// connection lifecycle; the message is addressed by the external session and
// the provider thread id.
type whatsappSender struct {
	secret string
	client *http.Client
}

func newWhatsAppSender() *whatsappSender {
	return &whatsappSender{
		secret: env.Get(env.GatewaySecret),
		client: &http.Client{Timeout: sendTimeout},
	}
}

func (s *whatsappSender) Send(ctx context.Context, creds model.ChannelCredentialItem, conv model.ConversationItem, content string) (string, error) {
	if creds.GatewayURL == "" || creds.ExternalSessionID == "" {
		return "", fmt.Errorf("whatsapp send: no connected session for tenant %s", conv.TenantID)
	}

	body, err := json.Marshal(map[string]string{
		"to":   conv.ChannelThreadID,
		"text": content,
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp send: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/messages", creds.GatewayURL, creds.ExternalSessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("whatsapp send: status %d", resp.StatusCode)
	}

	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("whatsapp send: decode response: %w", err)
	}
	if payload.MessageID == "" {
		return "", fmt.Errorf("whatsapp send: gateway returned no message id")
	}
	return payload.MessageID, nil
}

// telegramSender calls the Bot API directly with the tenant's bot token.
type telegramSender struct {
	apiBase string
	client  *http.Client
}

func newTelegramSender() *telegramSender {
	return &telegramSender{
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: sendTimeout},
	}
}

func (s *telegramSender) Send(ctx context.Context, creds model.ChannelCredentialItem, conv model.ConversationItem, content string) (string, error) {
	if creds.BotToken == "" {
		return "", fmt.Errorf("telegram send: no bot token for tenant %s", conv.TenantID)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": conv.ChannelThreadID,
		"text":    content,
	})
	if err != nil {
		return "", fmt.Errorf("telegram send: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, creds.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("telegram send: decode response: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("telegram send: status %d: %s", resp.StatusCode, payload.Description)
	}
	return fmt.Sprintf("%d", payload.Result.MessageID), nil
}
