package dto

type TriggerEventRequest struct {
	TriggerEvent string                 `json:"triggerEvent"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

type TriggerEventResponse struct {
	Triggered int `json:"triggered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

type AutomationLogResponse struct {
	LogID           string `json:"logId"`
	AutomationID    string `json:"automationId"`
	TriggerEvent    string `json:"triggerEvent"`
	PayloadSnapshot string `json:"payloadSnapshot,omitempty"`
	Status          string `json:"status"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	StartedAt       string `json:"startedAt"`
	CompletedAt     string `json:"completedAt,omitempty"`
}
