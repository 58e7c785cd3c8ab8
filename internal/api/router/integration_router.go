package router

import (
	"net/http"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/endpoints"
	"omnicrm-backend/internal/api/middleware"
	integrationservice "omnicrm-backend/internal/service/integration"
)

func IntegrationRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := integrationservice.New(s.Database(), s.Sink())
		integrationEndpoints := endpoints.NewIntegrationEndpoints(service, prefix)

		mux.HandleFunc(prefix+"/integrations/", s.MakeHTTPHandleFunc(integrationEndpoints.Integrations, middleware.ValidateUserJWT))
	}
}
