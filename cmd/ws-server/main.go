package main

import (
	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/router"
	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/queue"
	"omnicrm-backend/internal/websocket"
)

func main() {
	env.Require(
		env.UserSecretKey,
		env.NotifyRedisURL,
	)

	queueManager := queue.NewRequestQueueManager(10, 10)

	hub := websocket.NewHub()
	go hub.Run()
	handler := websocket.NewHandler(hub)

	// This server only fans Redis notifications out to UI sessions; it never
	// touches the database.
	server := api.NewAPIServer(
		":8082",
		queueManager,
		nil,
		nil,
		handler,
		router.UtilsRoutes("/ws/v1"),
		router.WebsocketRoutes("/ws/v1"),
	)

	server.Run()
}
