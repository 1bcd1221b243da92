package ingress

import (
	"net/http"

	"github.com/fb-discord-relay/relay/internal/breaker"
	"github.com/fb-discord-relay/relay/internal/ratelimit"
	"github.com/fb-discord-relay/relay/internal/sink"
)

// SinkHealthHandler is the operator-visible counterpart of the
// circuit-breaker/rate-limiter guard on the sink leg: it reports each
// configured sink's current breaker state and window occupancy,
// grounded in the teacher's SubscriberHealth dashboard (one entry per
// entity the reliability layer tracks, not per request).
type SinkHealthHandler struct {
	breaker *breaker.CircuitBreaker
	limiter *ratelimit.RateLimiter
	router  *sink.Router
}

func NewSinkHealthHandler(cb *breaker.CircuitBreaker, rl *ratelimit.RateLimiter, router *sink.Router) *SinkHealthHandler {
	return &SinkHealthHandler{breaker: cb, limiter: rl, router: router}
}

type sinkHealth struct {
	SinkURL        string            `json:"sink_url"`
	CircuitBreaker breaker.State     `json:"circuit_breaker"`
	RateLimit      ratelimit.Status  `json:"rate_limit"`
}

// List reports health for every sink URL the router can resolve to.
func (h *SinkHealthHandler) List(w http.ResponseWriter, r *http.Request) {
	urls := h.router.AllURLs()
	result := make([]sinkHealth, 0, len(urls))

	for _, url := range urls {
		rlStatus, _ := h.limiter.Status(r.Context(), url)
		result = append(result, sinkHealth{
			SinkURL:        url,
			CircuitBreaker: h.breaker.GetState(r.Context(), url),
			RateLimit:      rlStatus,
		})
	}

	respondJSON(w, http.StatusOK, result)
}
