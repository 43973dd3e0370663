// Package api exposes the workflows over HTTP.
//
// Every workflow response carries the thread's state fields plus a reserved
// "__interrupt__" list ({value, id}), empty unless the run is suspended. The
// same shaper serves run, resume and state reads, so a client polling state
// sees exactly what the initiating call returned.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/workflow"
)

// Engines are the workflows served. A nil entry leaves its routes
// unregistered.
type Engines struct {
	// Approval runs workflow.NewApprovalGraph.
	Approval *graph.Engine

	// Demo runs workflow.NewDemoGraph.
	Demo *graph.Engine

	// DemoApproval runs workflow.NewDemoApprovalGraph.
	DemoApproval *graph.Engine

	Chat *workflow.ChatAgent
}

// API wires the HTTP handlers to the engines.
type API struct {
	engines Engines
	logger  *slog.Logger
	health  func(ctx context.Context) error
	metrics http.Handler
	newID   func() string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithHealthCheck sets the probe behind GET /healthz.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(a *API) { a.health = check }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithIDGenerator replaces the thread id generator used by submit.
func WithIDGenerator(fn func() string) Option {
	return func(a *API) { a.newID = fn }
}

// New creates an API.
func New(engines Engines, opts ...Option) *API {
	a := &API{
		engines: engines,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routes wrapped in recovery and request logging.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return a.logRequests(a.recoverPanics(mux))
}

// RegisterRoutes registers every route on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	if a.engines.Approval != nil {
		mux.HandleFunc("POST /lg_approve/submit", a.approveSubmit)
		mux.HandleFunc("GET /lg_message/feedback/{thread_id}/{approve_flag}", a.messageFeedback)
		mux.HandleFunc("POST /lg_approve/continue/{thread_id}", a.approveContinue)
	}
	if a.engines.Demo != nil {
		mux.HandleFunc("GET /langgraph/invoke", a.demoInvoke)
		mux.HandleFunc("GET /langgraph/get_state", a.demoGetState)
		mux.HandleFunc("GET /langgraph/get_state_snapshot", a.demoGetStateSnapshot)
		mux.HandleFunc("GET /langgraph/history", a.demoHistory)
	}
	if a.engines.DemoApproval != nil {
		mux.HandleFunc("GET /lg/approve/submit", a.demoApproveSubmit)
		mux.HandleFunc("GET /lg/approve/state", a.demoApproveState)
		mux.HandleFunc("GET /lg/approve/resume", a.demoApproveResume)
	}
	if a.engines.Chat != nil {
		mux.HandleFunc("POST /langgraph/chat", a.chat)
		mux.HandleFunc("POST /langgraph/chat_resume/{thread_id}", a.chatResume)
		mux.HandleFunc("GET /langgraph/chat_state/{thread_id}", a.chatState)
	}
	mux.HandleFunc("GET /healthz", a.healthz)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (a *API) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				a.logger.Error("handler panicked",
					slog.String("path", r.URL.Path),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, fmt.Errorf("panic: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
