package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/campaignd/internal/auth"
	"github.com/danmuck/campaignd/internal/observability"
)

// AdminHandler serves /metrics and /healthz. /metrics requires the configured
// admin token when one is set.
func AdminHandler(s *Service) http.Handler {
	var v auth.Validator
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		v = auth.StaticToken{Token: token}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", auth.Require(v, observability.Handler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok active_clients=%d\n", s.ActiveClients())
	})
	return mux
}
