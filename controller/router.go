package controller

import (
	"net/http"

	"go.uber.org/zap"
)

// NewRouter wires the effect routes behind admin auth, the public image files and the
// health check, all under CORS.
func NewRouter(effects *EffectController, images http.Handler, imagePrefix string, auth AuthConfig, corsOrigin string, logger *zap.Logger) http.Handler {
	api := http.NewServeMux()
	effects.Register(api)
	protected := RequireAdmin(auth, logger, api)

	mux := http.NewServeMux()
	mux.Handle("/effect", protected)
	mux.Handle("/effect/", protected)
	mux.Handle("GET "+imagePrefix, images)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return CORS(corsOrigin, mux)
}
