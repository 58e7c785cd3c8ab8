package model

import "fmt"

const (
	IntegrationsTable       = "ChannelIntegrations"
	ChannelClaimsTable      = "ChannelClaims"
	ContactsTable           = "Contacts"
	ConversationsTable      = "Conversations"
	ThreadClaimsTable       = "ThreadClaims"
	MessagesTable           = "Messages"
	ChannelCredentialsTable = "ChannelCredentials"
	AutomationsTable        = "Automations"
	AutomationLogsTable     = "AutomationLogs"
	AuditEventsTable        = "AuditEvents"
)

func TenantScopedPK(tenantID, entityID string) string {
	return fmt.Sprintf("%s#%s", tenantID, entityID)
}

// ChannelPK keys the per-tenant-per-channel singletons (active-channel claims
// and channel credentials).
func ChannelPK(tenantID string, channel Channel) string {
	return fmt.Sprintf("%s#%s", tenantID, channel)
}

func ContactPK(tenantID string, channel Channel, address string) string {
	return fmt.Sprintf("%s#%s#%s", tenantID, channel, address)
}

// ThreadPK keys the open-conversation claim for a provider thread. At most one
// item per key may exist, which is what serializes concurrent thread
// resolution.
func ThreadPK(tenantID string, channel Channel, contactID, threadID string) string {
	return fmt.Sprintf("%s#%s#%s#%s", tenantID, channel, contactID, threadID)
}

func ConversationPK(tenantID, conversationID string) string {
	return fmt.Sprintf("%s#%s", tenantID, conversationID)
}

func MessagePK(conversationID, messageID string) string {
	return fmt.Sprintf("%s#%s", conversationID, messageID)
}
