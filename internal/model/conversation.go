package model

type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderAI    SenderType = "ai"
)

type MessageStatus string

const (
	MessageStatusReceived MessageStatus = "received"
	MessageStatusPending  MessageStatus = "pending"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusFailed   MessageStatus = "failed"
)

type ContactItem struct {
	PK         string            `dynamodbav:"pk"`
	ContactID  string            `dynamodbav:"contactId"`
	TenantID   string            `dynamodbav:"tenantId"`
	Channel    Channel           `dynamodbav:"channel"`
	Address    string            `dynamodbav:"address"`
	Name       string            `dynamodbav:"name,omitempty"`
	Metadata   map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt  string            `dynamodbav:"createdAt"`
	LastSeenAt string            `dynamodbav:"lastSeenAt"`
}

type ConversationItem struct {
	PK              string             `dynamodbav:"pk"`
	ConversationID  string             `dynamodbav:"conversationId"`
	TenantID        string             `dynamodbav:"tenantId"`
	ContactID       string             `dynamodbav:"contactId"`
	Channel         Channel            `dynamodbav:"channel"`
	ChannelThreadID string             `dynamodbav:"channelThreadId"`
	Status          ConversationStatus `dynamodbav:"status"`
	OpenedAt        string             `dynamodbav:"openedAt"`
	ClosedAt        string             `dynamodbav:"closedAt,omitempty"`
	LastMessageAt   string             `dynamodbav:"lastMessageAt"`
	UpdatedAt       string             `dynamodbav:"updatedAt"`
}

// ThreadClaimItem maps an external provider thread to the single open
// conversation attached to it. Created with a conditional put during
// ingestion, deleted when the conversation closes.
type ThreadClaimItem struct {
	PK             string `dynamodbav:"pk"`
	TenantID       string `dynamodbav:"tenantId"`
	ConversationID string `dynamodbav:"conversationId"`
	ClaimedAt      string `dynamodbav:"claimedAt"`
}

// MessageItem rows for inbound messages use the provider message id as the
// MessageID, so a provider retry of the same payload collides on the pk and
// is suppressed instead of duplicated.
type MessageItem struct {
	PK               string           `dynamodbav:"pk"`
	MessageID        string           `dynamodbav:"messageId"`
	TenantID         string           `dynamodbav:"tenantId"`
	ConversationID   string           `dynamodbav:"conversationId"`
	ContactID        string           `dynamodbav:"contactId"`
	Direction        MessageDirection `dynamodbav:"direction"`
	SenderType       SenderType       `dynamodbav:"senderType"`
	Content          string           `dynamodbav:"content"`
	ContentType      string           `dynamodbav:"contentType,omitempty"`
	MediaURL         string           `dynamodbav:"mediaUrl,omitempty"`
	ChannelMessageID string           `dynamodbav:"channelMessageId,omitempty"`
	Status           MessageStatus    `dynamodbav:"status"`
	CreatedAt        string           `dynamodbav:"createdAt"`
}
