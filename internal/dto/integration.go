package dto

type ConnectIntegrationResponse struct {
	IntegrationID string `json:"integrationId"`
	QRPayload     string `json:"qrPayload,omitempty"`
	WebhookURL    string `json:"webhookUrl"`
}

type IntegrationStatusResponse struct {
	IntegrationID string `json:"integrationId"`
	Status        string `json:"status"`
}

type SetCredentialsRequest struct {
	BotToken     string `json:"botToken,omitempty"`
	VerifySecret string `json:"verifySecret,omitempty"`
}
