package env

import (
	"os"
)

const (
	AWSRegion        = "AWS_REGION"
	AWSID            = "AWS_ID"
	AWSSecret        = "AWS_SECRET"
	AWSToken         = "AWS_TOKEN"
	DynamoDBEndpoint = "DYNAMODB_ENDPOINT"

	UserSecretKey = "USER_SECRET"

	NotifyRedisURL  = "NOTIFY_REDIS_URL"
	NotifyRedisPass = "NOTIFY_REDIS_PASS"

	// Session gateway the connection state manager provisions channel
	// sessions against, one base URL per channel.
	WhatsAppGatewayURL = "WHATSAPP_GATEWAY_URL"
	TelegramGatewayURL = "TELEGRAM_GATEWAY_URL"
	GatewaySecret      = "GATEWAY_SECRET"

	// Shared secrets carried by callbacks re-entering the system.
	WorkflowCallbackSecret = "WORKFLOW_CALLBACK_SECRET"
	GatewayCallbackSecret  = "GATEWAY_CALLBACK_SECRET"

	// Externally reachable base of the webhook server, used to build the
	// per-integration webhook URLs handed to the gateway at connect time.
	PublicWebhookBase = "PUBLIC_WEBHOOK_BASE"

	WebUrl = "WEB_URL"
)

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}

// Require is called from the server mains so a missing variable fails fast at
// startup instead of mid-request.
func Require(keys ...string) {
	for _, key := range keys {
		if os.Getenv(key) == "" {
			panic("env: required environment variable not set: " + key)
		}
	}
}
