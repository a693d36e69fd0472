package routes

import (
	"net/http"

	"github.com/mosaicstories/mosaic/internal/router"
)

// RegisterAPIRoutes registers the user-facing API routes called by the app
// backend. Authentication happens at the API gateway in front of this
// service.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	r.Post("/api/users", deps.UserHandler.CreateUser)
	r.Get("/api/users/{email}/subscription", deps.UserHandler.GetSubscription)
}

// RegisterOpsRoutes registers operational endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Handle("GET", "/metrics", deps.MetricsHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
