package dto

type SendMessageRequest struct {
	Content    string `json:"content"`
	SenderType string `json:"senderType,omitempty"`
}

type SendMessageResponse struct {
	MessageID        string `json:"messageId"`
	ChannelMessageID string `json:"channelMessageId,omitempty"`
	Status           string `json:"status"`
}
