package httpserver

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/dagnode/internal/server/rpcserver"
)

// maxBodyBytes bounds one RPC request body.
const maxBodyBytes = 5 << 20

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Dispatcher answers RPC calls.
	Dispatcher *rpcserver.Dispatcher

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler

	// Logger for request logging.
	Logger *slog.Logger

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// RateLimit is the per-IP limit in requests per second. Zero disables it.
	RateLimit int
}

// NewRouter creates the HTTP router.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(Recover(logger), RequestID(), CORS(cfg.CORSAllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok"}`)
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimit(cfg.RateLimit))
		}
		r.Use(AccessLog(logger))
		r.Post("/", rpcHandler(cfg.Dispatcher))
	})
	return r
}

func rpcHandler(d *rpcserver.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		reply := d.Handle(r.Context(), body)
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	}
}
