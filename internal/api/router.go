package api

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/handlers"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/store"
)

// jsonBodyLimit caps bodies on routes that do not accept uploads.
const jsonBodyLimit = 16 * 1024

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger         zerolog.Logger
	Store          store.DataStore
	Redis          *store.RedisStore // nil disables HTTP rate limiting
	Registry       *hub.Registry
	Verifier       middleware.Authenticator
	Gateway        http.Handler
	Uploads        handlers.UploadConfig
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	if d.Redis != nil {
		limiter := middleware.NewRateLimiter(d.Redis.Client(), d.Logger, d.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(d.Store, d.Redis, d.Registry, d.Uploads, d.Logger)
	auth := middleware.NewAuthMiddleware(d.Verifier)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// The gateway authenticates the handshake itself.
	r.Get("/ws", d.Gateway.ServeHTTP)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(noDirFS{http.Dir(d.Uploads.Dir)})))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(jsonBodyLimit))
			r.Get("/history/{userId}", h.History)
			r.Get("/chat/message/{userId}", h.History)
			r.Get("/chat/contacts", h.Contacts)
		})

		// Upload enforces its own limit from UploadConfig.
		r.Post("/chat/upload", h.Upload)
	})

	return r
}

// noDirFS hides directory listings under /uploads/.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
