package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/orchestrator"
	"bulkgrab/pkg/task"
)

// Provider is the read-only view of an orchestrator served over HTTP
type Provider interface {
	StatusSource
	Task(id string) (task.Info, bool)
	Tasks() []task.Info
}

// NewRouter creates the status router: /health, /metrics, /status and /tasks
func NewRouter(c *Collector, p Provider, log logger.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", c.Handler())

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, statusResponse(p.QueueStatus()))
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, log, http.StatusOK, p.Tasks())
		})
		r.Get("/{taskID}", func(w http.ResponseWriter, r *http.Request) {
			info, ok := p.Task(chi.URLParam(r, "taskID"))
			if !ok {
				writeJSON(w, log, http.StatusNotFound, map[string]string{"error": "task not found"})
				return
			}
			writeJSON(w, log, http.StatusOK, info)
		})
	})

	return r
}

type sourceStatus struct {
	Source             string        `json:"source"`
	MaxPerWindow       int           `json:"max_per_window"`
	MinSpacing         time.Duration `json:"min_spacing"`
	RequestsThisWindow int           `json:"requests_this_window"`
	LastDispatch       time.Time     `json:"last_dispatch,omitempty"`
}

type status struct {
	Queued  int                     `json:"queued"`
	Running int                     `json:"running"`
	Stats   orchestrator.Statistics `json:"stats"`
	Sources []sourceStatus          `json:"sources"`
}

func statusResponse(qs orchestrator.QueueStatus) status {
	out := status{
		Queued:  qs.Queued,
		Running: qs.Running,
		Stats:   qs.Stats,
		Sources: make([]sourceStatus, 0, len(qs.Sources)),
	}
	for _, s := range qs.Sources {
		out.Sources = append(out.Sources, sourceStatus{
			Source:             s.Source,
			MaxPerWindow:       s.Limits.MaxPerWindow,
			MinSpacing:         s.Limits.MinSpacing,
			RequestsThisWindow: s.RequestsThisWindow,
			LastDispatch:       s.LastDispatch,
		})
	}
	return out
}

// Server serves a router until its context is cancelled
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

// NewServer creates a server listening on addr
func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Run listens until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithFields("Status server listening", map[string]interface{}{
			"addr": s.srv.Addr,
		})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, log logger.Logger, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WarnWithFields("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
