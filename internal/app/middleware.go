package app

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ledgerd/ledgerd/internal/config"
	"github.com/ledgerd/ledgerd/pkg/user"
	log "github.com/sirupsen/logrus"
)

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router, deps *Dependencies, cfg config.Application) {

	// Propagate X-User-Id header into context for downstream services
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			userIDHeader := req.Header.Get("X-User-Id")
			ctx := req.Context()

			if userIDHeader != "" {
				id, err := strconv.Atoi(userIDHeader)
				if err != nil {
					log.Debugf("invalid user id header: %s", userIDHeader)
					http.Error(w, "invalid user id", http.StatusBadRequest)
					return
				}
				ctx = user.WithUserId(ctx, id)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
}
