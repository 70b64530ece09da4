// Package health serves earshot's liveness and readiness probes.
//
//   - /healthz — liveness; a process that can still answer HTTP is alive.
//   - /readyz  — readiness; passes only when the embedded store round-trips
//     and at least one API key is eligible for analysis.
//
// Responses are JSON. /readyz reports each check by name with a status and a
// short detail line (eligible-key counts, store round-trip time), so an
// operator can see why a session would stall without grepping logs.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns a short human-readable
// detail on success and a non-nil error describing the failure otherwise. It
// must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) (detail string, err error)
}

// checkResult is one check's entry in the /readyz response.
type checkResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// response is the JSON body for both probe endpoints.
type response struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	started  time.Time
	checkers []Checker
}

// New creates a Handler that evaluates the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{started: time.Now(), checkers: c}
}

// Healthz always reports ok together with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz returns 200 only when every checker passes. Each checker runs under
// a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		detail, err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = checkResult{Status: "fail", Detail: err.Error()}
			ready = false
			continue
		}
		checks[c.Name] = checkResult{Status: "ok", Detail: detail}
	}

	res := response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Checks: checks,
	}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
