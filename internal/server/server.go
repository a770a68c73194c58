// Package server wires the HTTP routes, middleware, and CORS policy.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	healthhandler "clerk-token-service/internal/health/handler"
	tokenhandler "clerk-token-service/internal/token/handler"
)

// NewRouter builds the route table. allowedOrigins is the CORS allow-list;
// empty means same-origin only.
func NewRouter(tokens *tokenhandler.Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/token/exchange", requireJSON(http.HandlerFunc(tokens.Exchange)))
	mux.Handle("POST /v1/token/refresh", requireJSON(http.HandlerFunc(tokens.Refresh)))
	mux.Handle("POST /v1/token/validate", requireJSON(http.HandlerFunc(tokens.Validate)))
	mux.Handle("POST /v1/token/clerk/exchange", requireJSON(http.HandlerFunc(tokens.ClerkExchange)))
	mux.Handle("POST /v1/apikey/store", tokens.RequireAPISecret(requireJSON(http.HandlerFunc(tokens.StoreAPIKey))))
	mux.HandleFunc("GET /health", healthhandler.Health)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Api-Secret"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler(mux)
}

// New returns an http.Server with sane timeouts serving the route table.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// requireJSON rejects POST bodies that do not declare application/json.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "application/json") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_, _ = w.Write([]byte(`{"error":"Content-Type must be application/json"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
