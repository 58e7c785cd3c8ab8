package router

import (
	"net/http"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/endpoints"
	"omnicrm-backend/internal/api/middleware"
	automationservice "omnicrm-backend/internal/service/automation"
)

func AutomationRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := automationservice.New(s.Database())
		automationEndpoints := endpoints.NewAutomationEndpoints(service, prefix)

		mux.HandleFunc(prefix+"/events", s.MakeHTTPHandleFunc(automationEndpoints.Events, middleware.ValidateUserJWT))
		mux.HandleFunc(prefix+"/automations/", s.MakeHTTPHandleFunc(automationEndpoints.Automations, middleware.ValidateUserJWT))
	}
}
