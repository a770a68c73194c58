// Package handler serves the liveness endpoint.
package handler

import (
	"encoding/json"
	"net/http"
)

// Health reports process liveness. It deliberately does not probe the cache
// or the broker: consumers reconnect on their own and a failing dependency
// should not get the process restarted.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
