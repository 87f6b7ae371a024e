// Package health serves the gateway's liveness and readiness probes.
//
//   - /healthz — liveness; 200 whenever the process can serve HTTP.
//   - /readyz  — readiness; 200 only while the gateway should receive new
//     calls: not draining, and every registered [Checker] passing.
//
// Both respond with a JSON object carrying a top-level "status" ("ok",
// "fail" or "draining") and, for readiness, a "checks" map with one entry
// per checker.
//
// Calls are long-lived, so shutdown flips the handler to draining first:
// the load balancer stops routing new calls here while established media
// streams run to completion.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds how long a single readiness check may take.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the
// dependency can serve and an error describing the problem otherwise.
type Checker struct {
	// Name keys this check in the JSON response ("calllog", "providers").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// SetDraining marks the process as draining (or clears the mark). While
// draining, Readyz reports 503 without running any checkers so that no new
// calls are routed here, while the liveness probe keeps passing.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz is the liveness probe. A running process that can serve HTTP is
// alive, draining or not.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. It reports 503 immediately while draining;
// otherwise it runs every checker and reports 200 only if all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	checks, ok := h.runChecks(r.Context())
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// runChecks evaluates all checkers concurrently, each under its own
// [checkTimeout], and reports per-check outcomes plus overall success. A
// failing check does not cut the others short; the operator gets the full
// picture in one probe.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	outcomes := make([]string, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := c.Check(cctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
				return err
			}
			outcomes[i] = "ok"
			return nil
		})
	}
	err := g.Wait()

	checks := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		checks[c.Name] = outcomes[i]
	}
	return checks, err == nil
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON marshals v before touching the response so an encoding failure
// can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
