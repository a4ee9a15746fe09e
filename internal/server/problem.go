package server

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/rebootguard/internal/version"
)

// Problem types returned in RFC 7807 responses.
const (
	problemBase = "urn:rebootguard:problem:"

	ProblemTypeNotFound    = problemBase + "not-found"
	ProblemTypeBadRequest  = problemBase + "bad-request"
	ProblemTypeInternal    = problemBase + "internal-error"
	ProblemTypeNoHost      = problemBase + "no-simulated-host"
	ProblemTypeRateLimited = problemBase + "injection-rate-limited"
)

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes p as application/problem+json. An empty title
// falls back to the status text.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Rebootguard-Version", version.Short())
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(w http.ResponseWriter, status int, typ, detail, instance string) {
	WriteProblem(w, Problem{Type: typ, Status: status, Detail: detail, Instance: instance})
}

// NotFound reports an unknown attempt or route.
func NotFound(w http.ResponseWriter, detail, instance string) {
	problem(w, http.StatusNotFound, ProblemTypeNotFound, detail, instance)
}

// BadRequest reports a malformed injected request.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	problem(w, http.StatusBadRequest, ProblemTypeBadRequest, detail, instance)
}

// InternalError reports a host call that failed while being injected.
func InternalError(w http.ResponseWriter, detail, instance string) {
	problem(w, http.StatusInternalServerError, ProblemTypeInternal, detail, instance)
}

// NoHost rejects request injection when the server runs without a
// simulated host.
func NoHost(w http.ResponseWriter, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeNoHost,
		Title:    "No Simulated Host",
		Status:   http.StatusServiceUnavailable,
		Detail:   "requests can only be injected into a simulated host",
		Instance: instance,
	})
}

// RateLimited rejects injection past the configured rate.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	problem(w, http.StatusTooManyRequests, ProblemTypeRateLimited, detail, instance)
}
