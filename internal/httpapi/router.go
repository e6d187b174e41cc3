// Package httpapi implements the broker's REST facade: the thin,
// auth-code-gated proxy over the controller that the museum's
// placards and admin tooling poll, plus the Prometheus metrics
// endpoint. Styled after Pulse's internal/api.Router: a bare
// http.ServeMux field and a handful of composable middlewares, not a
// third-party router.
package httpapi

import (
	"net/http"

	"github.com/BYU-PCCL/footron-api/internal/auth"
	"github.com/BYU-PCCL/footron-api/internal/controllerclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router is the broker's REST surface.
type Router struct {
	mux        *http.ServeMux
	auth       *auth.Manager
	controller *controllerclient.Client
	log        zerolog.Logger

	allowedOrigins map[string]bool
}

// New builds a Router, allowing CORS from localhost (both bare and the
// :3000 dev server port) and baseURL, matching the original's CORS
// configuration in footron_api/app.py.
func New(authManager *auth.Manager, controller *controllerclient.Client, baseURL string) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		auth:       authManager,
		controller: controller,
		log:        log.With().Str("component", "httpapi").Logger(),
		allowedOrigins: map[string]bool{
			"http://localhost":      true,
			"http://localhost:3000": true,
			baseURL:                 true,
		},
	}

	r.mux.HandleFunc("GET /api/", r.handleRoot)
	r.mux.Handle("GET /api/experiences", r.withAuthCode(r.handleExperiences))
	r.mux.Handle("GET /api/collections", r.withAuthCode(r.handleCollections))
	r.mux.Handle("GET /api/current", r.withAuthCode(r.handleCurrentGet))
	r.mux.Handle("PUT /api/current", r.withAuthCode(r.handleCurrentPut))
	r.mux.Handle("PATCH /api/current", r.withAuthCode(r.handleCurrentPatch))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	return r
}

// ServeHTTP implements http.Handler, applying the access-log and CORS
// middlewares around the whole mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.withCORS(r.withAccessLog(r.mux)).ServeHTTP(w, req)
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<p>Welcome to the Footron API!</p>`))
}
