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
		env.NotifyRedisURL,
		env.WorkflowCallbackSecret,
		env.GatewayCallbackSecret,
	)

	// Webhook traffic is bursty when providers flush retry queues, so this
	// server runs a deeper queue than the interactive API.
	queueManager := queue.NewRequestQueueManager(100, 20)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	sink := notify.NewRedisSink(env.Get(env.NotifyRedisURL), env.Get(env.NotifyRedisPass))

	server := api.NewAPIServer(
		":8081",
		queueManager,
		db,
		sink,
		nil,
		router.UtilsRoutes("/hooks/v1"),
		router.WebhookRoutes("/hooks/v1"),
	)

	server.Run()
}
