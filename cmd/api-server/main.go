package main

import (
	"log"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/router"
	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/notify"
	"omnicrm-backend/internal/queue"
)

func main() {
	env.Require(
		env.AWSRegion,
		env.UserSecretKey,
		env.NotifyRedisURL,
		env.PublicWebhookBase,
	)

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	sink := notify.NewRedisSink(env.Get(env.NotifyRedisURL), env.Get(env.NotifyRedisPass))

	server := api.NewAPIServer(
		":8080",
		queueManager,
		db,
		sink,
		nil,
		router.UtilsRoutes("/api/v1"),
		router.IntegrationRoutes("/api/v1"),
		router.ConversationRoutes("/api/v1"),
		router.AutomationRoutes("/api/v1"),
	)

	server.Run()
}
