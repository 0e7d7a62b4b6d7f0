// Package httpserver exposes the gateway's JSON tool API.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/arkadianet/davgate/internal/auth"
	"github.com/arkadianet/davgate/internal/calendar"
	"github.com/arkadianet/davgate/internal/config"
	"github.com/arkadianet/davgate/internal/contacts"
	"github.com/arkadianet/davgate/internal/files"
	httperrors "github.com/arkadianet/davgate/internal/http/errors"
	"github.com/arkadianet/davgate/internal/http/ratelimit"
	"github.com/arkadianet/davgate/internal/metrics"
	"github.com/arkadianet/davgate/internal/store"
)

// Services bundles everything the router serves. Tool services left nil
// answer 503 on their routes; a nil Audit store disables audit endpoints
// and invocation logging but nothing else.
type Services struct {
	Auth     *auth.Service
	Audit    *store.Store
	Files    *files.Service
	Calendar *calendar.Service
	Contacts *contacts.Service
}

// NewRouter wires all HTTP routes for the gateway.
func NewRouter(cfg *config.Config, services Services) http.Handler {
	r := chi.NewRouter()
	h := &handler{services: services}

	apiRateLimiter := ratelimit.NewIPRateLimiter(
		rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst,
		5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if services.Audit != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := services.Audit.HealthCheck(ctx); err != nil {
				http.Error(w, "unready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(services.Auth.RequireAgent)

		r.Route("/files", func(r chi.Router) {
			r.Use(h.requireService("files", services.Files == nil))
			r.Use(h.audit("files"))
			r.Get("/list", h.listFiles)
			r.Get("/stat", h.statFile)
			r.Get("/read", h.readFile)
			r.Get("/read-json", h.readFileJSON)
			r.Get("/search", h.searchFiles)
			r.Post("/write", h.writeFile)
			r.Post("/write-json", h.writeFileJSON)
			r.Post("/mkdir", h.mkdir)
			r.Post("/rmdir", h.removeDir)
			r.Post("/delete", h.deleteFile)
			r.Post("/copy", h.copyFile)
			r.Post("/move", h.moveFile)
		})

		r.Route("/calendar", func(r chi.Router) {
			r.Use(h.requireService("calendar", services.Calendar == nil))
			r.Use(h.audit("calendar"))
			r.Get("/events", h.listEvents)
			r.Post("/events", h.createEvent)
			r.Get("/events/search", h.searchEvents)
			r.Get("/events/{uid}", h.getEvent)
			r.Patch("/events/{uid}", h.patchEvent)
			r.Delete("/events/{uid}", h.deleteEvent)
			r.Get("/agenda", h.agenda)
			r.Get("/tasks", h.listTasks)
			r.Post("/tasks", h.createTask)
			r.Patch("/tasks/{uid}", h.patchTask)
			r.Post("/tasks/{uid}/complete", h.completeTask)
			r.Delete("/tasks/{uid}", h.deleteTask)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Use(h.requireService("contacts", services.Contacts == nil))
			r.Use(h.audit("contacts"))
			r.Get("/", h.listContacts)
			r.Post("/", h.createContact)
			r.Get("/search", h.searchContacts)
			r.Get("/{uid}", h.getContact)
			r.Patch("/{uid}", h.patchContact)
			r.Delete("/{uid}", h.deleteContact)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(h.requireService("audit", services.Audit == nil))
			r.Get("/recent", h.recentAudit)
		})
	})

	return r
}

// requireService guards a route group whose backing upstream is absent.
func (h *handler) requireService(name string, missing bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if missing {
				httperrors.WriteError(w, http.StatusServiceUnavailable, name+" upstream is not configured")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// audit records each tool call: a counter always, and a database row when
// the audit store is configured.
func (h *handler) audit(tool string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := "ok"
			if ww.Status() >= http.StatusBadRequest {
				status = "error"
			}
			metrics.CountToolInvocation(tool, status)

			if h.services.Audit == nil {
				return
			}
			inv := store.Invocation{
				Tool:      tool,
				Operation: r.Method + " " + routePattern(r),
				Target:    auditTarget(r),
				Status:    status,
				Duration:  time.Since(start),
				RequestID: middleware.GetReqID(r.Context()),
			}
			if err := h.services.Audit.RecordInvocation(r.Context(), inv); err != nil {
				httperrors.LogError(r, "audit write failed", err)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// auditTarget picks the most specific identifier available for the call.
func auditTarget(r *http.Request) string {
	if uid := chi.URLParam(r, "uid"); uid != "" {
		return uid
	}
	q := r.URL.Query()
	for _, name := range []string{"path", "dir", "q"} {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}
