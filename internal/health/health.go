// Package health serves the liveness and readiness probes of the recod
// daemon.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz
// runs every [Checker] concurrently and answers 200 only when all of them
// pass, 503 otherwise. Both reply with JSON:
//
//	{"status":"fail","checks":{"store":"ok","recognizer":"fail: ..."}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/recod/internal/resilience"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 3 * time.Second

// ErrNoRecognizer means every configured recognizer has an open breaker.
var ErrNoRecognizer = errors.New("health: no recognizer available")

// Checker probes one dependency. Check returns nil while it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by the recording stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker is ready while store answers pings.
func StoreChecker(store Pinger) Checker {
	return Checker{Name: "store", Check: store.Ping}
}

// Recognizers is the view of a recognizer chain the check needs.
type Recognizers interface {
	Healthy() bool
	Status() []resilience.BackendStatus
}

var _ Recognizers = (*resilience.RecognizerFallback)(nil)

// RecognizerChecker is ready while at least one backend of recs takes
// calls. The failure names each backend's breaker state.
func RecognizerChecker(recs Recognizers) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(context.Context) error {
			if recs.Healthy() {
				return nil
			}
			var states []string
			for _, s := range recs.Status() {
				states = append(states, s.Name+" "+s.State.String())
			}
			return fmt.Errorf("%w (%s)", ErrNoRecognizer, strings.Join(states, ", "))
		},
	}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a handler running checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), timeout: DefaultCheckTimeout}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	reply(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports ok when every checker passes within its timeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			rep.Checks[c.Name] = "fail: " + errs[i].Error()
			rep.Status, code = "fail", http.StatusServiceUnavailable
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	reply(w, code, rep)
}

func reply(w http.ResponseWriter, code int, rep report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
