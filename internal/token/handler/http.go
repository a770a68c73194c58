// Package handler exposes the token lifecycle over HTTP and maps service
// sentinel errors to status codes.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"clerk-token-service/internal/security"
	"clerk-token-service/internal/token/service"
)

// TokenService is the lifecycle surface needed by the HTTP handlers.
type TokenService interface {
	ExchangeAPIKey(ctx context.Context, rawKey string) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*service.TokenPair, error)
	Validate(token string) bool
	ExchangeProviderSession(ctx context.Context, sessionID, userID string) (*service.TokenPair, error)
}

// MappingStore is the provisioning surface behind the api-secret-guarded
// store endpoint.
type MappingStore interface {
	PutAPIKeyMapping(ctx context.Context, hashedKey, userID string) error
}

// Handler holds the HTTP handlers for the token endpoints.
type Handler struct {
	tokens    TokenService
	mappings  MappingStore
	apiSecret string
}

// NewHandler returns a Handler. apiSecret guards the provisioning endpoint;
// empty disables it entirely.
func NewHandler(tokens TokenService, mappings MappingStore, apiSecret string) *Handler {
	return &Handler{tokens: tokens, mappings: mappings, apiSecret: apiSecret}
}

type pairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newPairResponse(p *service.TokenPair) pairResponse {
	return pairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    p.ExpiresIn,
	}
}

// Exchange handles POST /v1/token/exchange.
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "API key is required")
		return
	}
	pair, err := h.tokens.ExchangeAPIKey(r.Context(), req.APIKey)
	if err != nil {
		h.writeTokenError(w, err, "Invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, newPairResponse(pair))
}

// Refresh handles POST /v1/token/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}
	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeTokenError(w, err, "Invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, newPairResponse(pair))
}

// Validate handles POST /v1/token/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isValid": h.tokens.Validate(req.Token)})
}

// ClerkExchange handles POST /v1/token/clerk/exchange.
func (h *Handler) ClerkExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Session ID and user ID are required")
		return
	}
	pair, err := h.tokens.ExchangeProviderSession(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		h.writeTokenError(w, err, "Invalid session")
		return
	}
	writeJSON(w, http.StatusOK, newPairResponse(pair))
}

// StoreAPIKey handles POST /v1/apikey/store, hashing the raw key before it
// touches the cache. Guarded by RequireAPISecret.
func (h *Handler) StoreAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "API key and user ID are required")
		return
	}
	if err := h.mappings.PutAPIKeyMapping(r.Context(), security.HashAPIKey(req.APIKey), req.UserID); err != nil {
		log.Printf("store api key: %v", err)
		writeError(w, http.StatusBadGateway, "Cache unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "API key stored successfully"})
}

// RequireAPISecret rejects requests whose X-Api-Secret header does not match
// the configured shared secret. With no secret configured the endpoint is
// disabled rather than open.
func (h *Handler) RequireAPISecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Api-Secret")
		if h.apiSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.apiSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeTokenError maps service sentinel errors to 401; anything else is a
// transient upstream failure the caller may retry.
func (h *Handler) writeTokenError(w http.ResponseWriter, err error, unauthorizedMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidAPIKey),
		errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrInvalidSession),
		errors.Is(err, service.ErrSessionOwnershipMismatch):
		writeError(w, http.StatusUnauthorized, unauthorizedMsg)
	default:
		log.Printf("token endpoint: %v", err)
		writeError(w, http.StatusBadGateway, "Cache unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
