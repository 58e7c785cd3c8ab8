package api

import (
	"fmt"
	"net/http"

	"omnicrm-backend/internal/database"
	"omnicrm-backend/internal/notify"
	"omnicrm-backend/internal/queue"
	"omnicrm-backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	db                  *database.Database
	sink                notify.Sink
	routeRegistrars     []RouteRegistrar
	handler             *websocket.Handler
	metrics             *metrics
}

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, db *database.Database, sink notify.Sink, handler *websocket.Handler, registrars ...RouteRegistrar) *APIServer {
	if sink == nil {
		sink = notify.Nop{}
	}

	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		db:                  db,
		sink:                sink,
		handler:             handler,
		routeRegistrars:     registrars,
		metrics:             newMetrics(prometheus.DefaultRegisterer, listenAddr, rqm),
	}
}

func (s *APIServer) Run() {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	fmt.Printf("Server listening on http://localhost%s\n", s.listenAddr)

	if err := http.ListenAndServe(s.listenAddr, s.metrics.instrument(mux)); err != nil {
		fmt.Printf("server stopped: %v\n", err)
	}
}

func (s *APIServer) Database() *database.Database {
	return s.db
}

func (s *APIServer) Queue() *queue.RequestQueueManager {
	return s.requestQueueManager
}

func (s *APIServer) Sink() notify.Sink {
	return s.sink
}

func (s *APIServer) Handler() *websocket.Handler {
	return s.handler
}
