package router

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader accepts cross-origin websocket connections; the museum's
// client and app surfaces are served from a different origin than the
// broker, mirroring the original's permissive CORS story for the
// messaging endpoints specifically (the REST API applies its own CORS
// middleware separately).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns an http.Handler exposing the two messaging
// endpoints: clients authenticate with a short code in the path,
// apps identify themselves by id.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messaging/in/{code}", h.handleClient)
	mux.HandleFunc("GET /messaging/out/{id}", h.handleApp)
	return mux
}

func (h *Hub) handleClient(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("client websocket upgrade failed")
		return
	}

	client := h.ConnectClient(code, conn)
	if client == nil {
		return
	}
	client.Run(r.Context())
}

func (h *Hub) handleApp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("app websocket upgrade failed")
		return
	}

	app := h.ConnectApp(id, conn)
	app.Run(r.Context())
}
