package router

import (
	"net/http"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/endpoints"
	"omnicrm-backend/internal/api/middleware"
	automationservice "omnicrm-backend/internal/service/automation"
	ingestservice "omnicrm-backend/internal/service/ingest"
	outboundservice "omnicrm-backend/internal/service/outbound"
)

func ConversationRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		emitter := automationservice.NewAsyncEmitter(automationservice.New(s.Database()), s.Queue())
		ingest := ingestservice.New(s.Database(), emitter, s.Sink())
		outbound := outboundservice.New(s.Database(), s.Sink())
		convEndpoints := endpoints.NewConversationEndpoints(ingest, outbound, prefix)

		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(convEndpoints.Conversations, middleware.ValidateUserJWT))
	}
}
