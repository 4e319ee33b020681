package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openvideo-live/splicer/pkg/logging"
)

func (s *Server) optionsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	// APIRouter is mounted at /api
	s.APIRouter.Group(createRouteAPI(s))
	// MediaRouter is mounted at /{org}/{channel}
	s.MediaRouter.MethodFunc("POST", "/cue", s.cueHandlerFunc)
	s.MediaRouter.MethodFunc("GET", "/*", s.mediaHandlerFunc)
	s.MediaRouter.MethodFunc("HEAD", "/*", s.mediaHandlerFunc)
	s.MediaRouter.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)

	return nil
}
