package dto

// InboundWebhookRequest is the normalized provider payload posted to a
// channel webhook. Channel-state pushes set Event/ExternalSessionID instead
// of the message fields; the two shapes never overlap.
type InboundWebhookRequest struct {
	Event             string                 `json:"event,omitempty"`
	ExternalSessionID string                 `json:"externalSessionId,omitempty"`
	StatePayload      map[string]string      `json:"payload,omitempty"`
	FromAddress       string                 `json:"fromAddress,omitempty"`
	ToAddress         string                 `json:"toAddress,omitempty"`
	Content           string                 `json:"content,omitempty"`
	ProviderMessageID string                 `json:"providerMessageId,omitempty"`
	Timestamp         string                 `json:"timestamp,omitempty"`
	MediaURL          string                 `json:"mediaUrl,omitempty"`
	ContentType       string                 `json:"contentType,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

type InboundWebhookResponse struct {
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Ignored        bool   `json:"ignored,omitempty"`
}

// ChannelStateCallbackRequest is pushed by the session gateway when a
// session's connection state changes.
type ChannelStateCallbackRequest struct {
	Event             string            `json:"event"`
	ExternalSessionID string            `json:"externalSessionId"`
	Payload           map[string]string `json:"payload,omitempty"`
}

// WorkflowCallbackRequest re-enters the system from the workflow engine,
// usually carrying an AI-generated reply for a conversation.
type WorkflowCallbackRequest struct {
	TenantID       string                 `json:"tenantId"`
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content"`
	AutomationID   string                 `json:"automationId,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}
