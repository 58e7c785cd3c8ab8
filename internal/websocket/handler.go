package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"omnicrm-backend/internal/env"
	"omnicrm-backend/internal/notify"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var (
	upgrader    websocket.Upgrader
	redisClient *redis.Client
)

func init() {
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	redisClient = redis.NewClient(&redis.Options{
		Addr:     env.Get(env.NotifyRedisURL),
		Password: env.Get(env.NotifyRedisPass),
		DB:       0,
	})
}

// Handler fans notify events out to connected UI clients. Rooms are keyed by
// tenant: every event the ingestion, delivery and integration services
// publish on a tenant's topic reaches every open UI session of that tenant.
type Handler struct {
	hub         *Hub
	redisClient *redis.Client
}

func NewHandler(h *Hub) *Handler {
	return &Handler{
		hub:         h,
		redisClient: redisClient,
	}
}

func (h *Handler) subscribeToTenantTopic(tenantID string) {
	roomID := notify.TenantTopic(tenantID)
	if _, exists := h.hub.Room(roomID); !exists {
		log.Printf("websocket: room %s not found for subscription", roomID)
		return
	}

	subscriber := h.redisClient.Subscribe(context.Background(), roomID)
	defer subscriber.Close()

	ch := subscriber.Channel()
	for msg := range ch {
		h.hub.Broadcast <- &WSMessage{
			Content:   msg.Payload,
			RoomID:    roomID,
			Timestamp: time.Now().Unix(),
		}
	}
	log.Printf("websocket: unsubscribed from %s", roomID)
}

// EnsureTenantRoom creates the tenant's room and its topic subscription the
// first time a client of that tenant connects.
func (h *Handler) EnsureTenantRoom(tenantID string) {
	roomID := notify.TenantTopic(tenantID)
	if !h.hub.EnsureRoom(roomID) {
		return
	}

	go h.subscribeToTenantTopic(tenantID)
}

func (h *Handler) JoinTenantRoom(w http.ResponseWriter, r *http.Request, tenantID, clientID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cl := &WSClient{
		Conn:     conn,
		Message:  make(chan *WSMessage, 10),
		ID:       clientID,
		RoomID:   notify.TenantTopic(tenantID),
		done:     make(chan struct{}),
		isClosed: false,
	}

	h.hub.Register <- cl

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub)
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	rooms := make([]RoomRes, 0)

	for _, id := range h.hub.RoomIDs() {
		rooms = append(rooms, RoomRes{
			ID: id,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rooms)
}
