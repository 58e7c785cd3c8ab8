package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateWebhookToken returns the opaque token embedded in a channel
// integration's inbound webhook URL, using a stable omni_ prefix followed by
// the uppercase UUID without dashes. Reconnects issue a fresh token so stale
// provider configurations stop resolving.
func GenerateWebhookToken() string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "omni_" + token
}
