package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightline-labs/voicecore/internal/api/handlers"
	httpmiddleware "github.com/brightline-labs/voicecore/internal/http/middleware"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// Config holds router configuration, kept as a struct-of-handlers the way
// the teacher's router.Config wires together its HTTP surface.
type Config struct {
	Logger      *logging.Logger
	CallHandler *handlers.CallHandler
	JWTSecret   string

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a Chi router exposing the core's single API surface: POST
// /call and GET /call, both gated behind the same bearer-JWT middleware.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.CallHandler != nil {
		r.Group(func(call chi.Router) {
			call.Use(httpmiddleware.AdminJWT(cfg.JWTSecret))
			call.Post("/call", cfg.CallHandler.CreateCall)
			call.Get("/call", cfg.CallHandler.ListCalls)
		})
	}

	return r
}
