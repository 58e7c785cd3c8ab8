package router

import (
	"net/http"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/endpoints"
	automationservice "omnicrm-backend/internal/service/automation"
	ingestservice "omnicrm-backend/internal/service/ingest"
	integrationservice "omnicrm-backend/internal/service/integration"
	outboundservice "omnicrm-backend/internal/service/outbound"
)

// WebhookRoutes registers the public provider boundary. No JWT middleware
// here: the webhook token in the path and the shared callback secrets are the
// authenticators.
func WebhookRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		integration := integrationservice.New(s.Database(), s.Sink())
		emitter := automationservice.NewAsyncEmitter(automationservice.New(s.Database()), s.Queue())
		ingest := ingestservice.New(s.Database(), emitter, s.Sink())
		outbound := outboundservice.New(s.Database(), s.Sink())

		webhookEndpoints := endpoints.NewWebhookEndpoints(integration, ingest, prefix)
		callbackEndpoints := endpoints.NewCallbackEndpoints(integration, outbound)

		mux.HandleFunc(prefix+"/channels/", s.MakeHTTPHandleFunc(webhookEndpoints.Channels))
		mux.HandleFunc(prefix+"/callbacks/workflow", s.MakeHTTPHandleFunc(callbackEndpoints.WorkflowCallback))
		mux.HandleFunc(prefix+"/callbacks/channel-state", s.MakeHTTPHandleFunc(callbackEndpoints.ChannelStateCallback))
	}
}
