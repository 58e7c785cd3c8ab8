package integration

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
	"omnicrm-backend/internal/retry"
)

type ProvisionRequest struct {
	TenantID   string `json:"tenantId"`
	WebhookURL string `json:"webhookUrl"`
	Channel    model.Channel
}

type ProvisionResult struct {
	ExternalSessionID string `json:"sessionId"`
	QRPayload         string `json:"qr,omitempty"`
}

// Provisioner is the session gateway boundary: it creates, tears down and
// inspects external channel sessions. BaseURL reports the gateway endpoint a
// channel's sends should target; empty means no gateway is configured.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)
	Deprovision(ctx context.Context, channel model.Channel, externalSessionID string) error
	Status(ctx context.Context, channel model.Channel, externalSessionID string) (model.IntegrationStatus, error)
	BaseURL(channel model.Channel) string
}

type HTTPProvisioner struct {
	baseURLs     map[model.Channel]string
	secret       string
	client       *http.Client
	policy       retry.Policy
	statusPolicy retry.Policy
}

func NewHTTPProvisioner() *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURLs: map[model.Channel]string{
			model.ChannelWhatsApp: env.Get(env.WhatsAppGatewayURL),
			model.ChannelTelegram: env.Get(env.TelegramGatewayURL),
		},
		secret: env.Get(env.GatewaySecret),
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.Default(),
		statusPolicy: retry.Policy{
			MaxAttempts:     2,
			BaseDelay:       200 * time.Millisecond,
			RetryableStatus: retry.ServerErrors,
		},
	}
}

func NewHTTPProvisionerWith(baseURLs map[model.Channel]string, secret string, client *http.Client, policy retry.Policy) *HTTPProvisioner {
	statusPolicy := policy
	statusPolicy.MaxAttempts = 2
	return &HTTPProvisioner{
		baseURLs:     baseURLs,
		secret:       secret,
		client:       client,
		policy:       policy,
		statusPolicy: statusPolicy,
	}
}

func (p *HTTPProvisioner) BaseURL(channel model.Channel) string {
	return p.baseURLs[channel]
}

func (p *HTTPProvisioner) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	base, ok := p.baseURLs[req.Channel]
	if !ok || base == "" {
		return ProvisionResult{}, fmt.Errorf("no gateway configured for channel %q", req.Channel)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("marshal provision request: %w", err)
	}

	var result ProvisionResult
	err = p.policy.Do(ctx, func(ctx context.Context) (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/sessions", bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Gateway-Secret", p.secret)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("provision session: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, fmt.Errorf("provision session: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return resp.StatusCode, fmt.Errorf("decode provision response: %w", err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return ProvisionResult{}, err
	}
	if result.ExternalSessionID == "" {
		return ProvisionResult{}, fmt.Errorf("gateway returned empty session id")
	}
	return result, nil
}

// Deprovision is fire-and-continue at every call site, so it makes a single
// attempt and reports the failure for logging only.
func (p *HTTPProvisioner) Deprovision(ctx context.Context, channel model.Channel, externalSessionID string) error {
	base, ok := p.baseURLs[channel]
	if !ok || base == "" {
		return fmt.Errorf("no gateway configured for channel %q", channel)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/sessions/"+externalSessionID, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("X-Gateway-Secret", p.secret)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deprovision session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deprovision session: status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvisioner) Status(ctx context.Context, channel model.Channel, externalSessionID string) (model.IntegrationStatus, error) {
	base, ok := p.baseURLs[channel]
	if !ok || base == "" {
		return "", fmt.Errorf("no gateway configured for channel %q", channel)
	}

	var payload struct {
		Status string `json:"status"`
	}
	err := p.statusPolicy.Do(ctx, func(ctx context.Context) (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sessions/"+externalSessionID, nil)
		if err != nil {
			return 0, err
		}
		httpReq.Header.Set("X-Gateway-Secret", p.secret)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("poll session status: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, fmt.Errorf("poll session status: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return resp.StatusCode, fmt.Errorf("decode status response: %w", err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return "", err
	}

	switch payload.Status {
	case "connected":
		return model.IntegrationStatusConnected, nil
	case "connecting", "pairing":
		return model.IntegrationStatusConnecting, nil
	case "disconnected", "logged_out":
		return model.IntegrationStatusDisconnected, nil
	case "error":
		return model.IntegrationStatusError, nil
	}
	return "", fmt.Errorf("unknown gateway status %q", payload.Status)
}
