package router

import (
	"net/http"

	"omnicrm-backend/internal/api"
	"omnicrm-backend/internal/api/endpoints"
)

func WebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		wsEndpoints := endpoints.NewWSEndpoints(s.Handler())
		mux.HandleFunc(prefix+"/notifications", s.MakeHTTPHandleFunc(wsEndpoints.Notifications))
	}
}
