package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fb-discord-relay/relay/internal/store"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// HealthHandler answers GET /healthz with a trivial store round-trip,
// per spec §4.8.
func HealthHandler(s *store.PostgresStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}

		if err := s.Ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}

		resp.Status = "healthy"
		respondJSON(w, http.StatusOK, resp)
	}
}

type readyResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// ReadyCheck is a named readiness predicate beyond the baseline store
// round-trip (spec §4.8: "plus whatever additional readiness
// predicates are configured").
type ReadyCheck struct {
	Name string
	Fn   func() bool
}

// ReadyHandler answers GET /readyz with the store round-trip plus any
// extra configured checks, per spec §4.8.
func ReadyHandler(s *store.PostgresStore, extra ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]bool{}
		allOK := true

		checks["database"] = s.Ping(r.Context()) == nil
		allOK = allOK && checks["database"]

		for _, c := range extra {
			ok := c.Fn()
			checks[c.Name] = ok
			allOK = allOK && ok
		}

		status := http.StatusOK
		resp := readyResponse{Status: "ready", Checks: checks}
		if !allOK {
			status = http.StatusServiceUnavailable
			resp.Status = "not ready"
		}
		respondJSON(w, status, resp)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
