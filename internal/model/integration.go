package model

type IntegrationStatus string

const (
	IntegrationStatusConnecting   IntegrationStatus = "connecting"
	IntegrationStatusConnected    IntegrationStatus = "connected"
	IntegrationStatusDisconnected IntegrationStatus = "disconnected"
	IntegrationStatusError        IntegrationStatus = "error"
)

// Active reports whether the status counts against the one-active-integration
// per (tenant, channel) rule.
func (s IntegrationStatus) Active() bool {
	return s == IntegrationStatusConnecting || s == IntegrationStatusConnected
}

// Terminal statuses are never mutated back into active ones; a reconnect
// creates a fresh record.
func (s IntegrationStatus) Terminal() bool {
	return s == IntegrationStatusDisconnected || s == IntegrationStatusError
}

type IntegrationItem struct {
	PK                 string            `dynamodbav:"pk"`
	IntegrationID      string            `dynamodbav:"integrationId"`
	TenantID           string            `dynamodbav:"tenantId"`
	Channel            Channel           `dynamodbav:"channel"`
	Status             IntegrationStatus `dynamodbav:"status"`
	ExternalSessionID  string            `dynamodbav:"externalSessionId,omitempty"`
	WebhookToken       string            `dynamodbav:"webhookToken"`
	ExternalWebhookURL string            `dynamodbav:"externalWebhookUrl,omitempty"`
	QRPayload          string            `dynamodbav:"qrPayload,omitempty"`
	ConnectedAt        string            `dynamodbav:"connectedAt,omitempty"`
	DisconnectedAt     string            `dynamodbav:"disconnectedAt,omitempty"`
	LastError          string            `dynamodbav:"lastError,omitempty"`
	CreatedAt          string            `dynamodbav:"createdAt"`
	UpdatedAt          string            `dynamodbav:"updatedAt"`
}

// ChannelClaimItem is the uniqueness lock for active integrations: it exists
// exactly while some integration for (tenant, channel) is connecting or
// connected, and is written with a conditional put.
type ChannelClaimItem struct {
	PK            string  `dynamodbav:"pk"`
	TenantID      string  `dynamodbav:"tenantId"`
	Channel       Channel `dynamodbav:"channel"`
	IntegrationID string  `dynamodbav:"integrationId"`
	ClaimedAt     string  `dynamodbav:"claimedAt"`
}

// ChannelCredentialItem holds the per-tenant delivery configuration for a
// channel. VerifySecretHash is a bcrypt hash compared against the shared
// secret providers attach to inbound webhook calls; BotToken and the gateway
// fields are what the outbound senders need to reach the provider API.
type ChannelCredentialItem struct {
	PK                string  `dynamodbav:"pk"`
	TenantID          string  `dynamodbav:"tenantId"`
	Channel           Channel `dynamodbav:"channel"`
	BotToken          string  `dynamodbav:"botToken,omitempty"`
	GatewayURL        string  `dynamodbav:"gatewayUrl,omitempty"`
	ExternalSessionID string  `dynamodbav:"externalSessionId,omitempty"`
	VerifySecretHash  string  `dynamodbav:"verifySecretHash,omitempty"`
	UpdatedAt         string  `dynamodbav:"updatedAt"`
}
