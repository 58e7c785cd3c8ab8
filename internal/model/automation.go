package model

type AutomationItem struct {
	PK             string `dynamodbav:"pk"`
	AutomationID   string `dynamodbav:"automationId"`
	TenantID       string `dynamodbav:"tenantId"`
	Name           string `dynamodbav:"name,omitempty"`
	TriggerEvent   string `dynamodbav:"triggerEvent"`
	WebhookURL     string `dynamodbav:"webhookUrl"`
	IsActive       bool   `dynamodbav:"isActive"`
	IsPaused       bool   `dynamodbav:"isPaused"`
	ExecutionCount int64  `dynamodbav:"executionCount"`
	ErrorCount     int64  `dynamodbav:"errorCount"`
	LastExecutedAt string `dynamodbav:"lastExecutedAt,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
}

// Eligible reports whether the automation should be dispatched at all.
func (a AutomationItem) Eligible() bool {
	return a.IsActive && !a.IsPaused
}

type AutomationLogStatus string

const (
	AutomationLogSuccess AutomationLogStatus = "success"
	AutomationLogError   AutomationLogStatus = "error"
)

// AutomationLogItem is append-only: one row per dispatch, reflecting the
// terminal outcome after retries, never one row per attempt.
type AutomationLogItem struct {
	PK              string              `dynamodbav:"pk"`
	LogID           string              `dynamodbav:"logId"`
	TenantID        string              `dynamodbav:"tenantId"`
	AutomationID    string              `dynamodbav:"automationId"`
	TriggerEvent    string              `dynamodbav:"triggerEvent"`
	PayloadSnapshot string              `dynamodbav:"payloadSnapshot,omitempty"`
	Status          AutomationLogStatus `dynamodbav:"status"`
	ErrorMessage    string              `dynamodbav:"errorMessage,omitempty"`
	StartedAt       string              `dynamodbav:"startedAt"`
	CompletedAt     string              `dynamodbav:"completedAt,omitempty"`
}
