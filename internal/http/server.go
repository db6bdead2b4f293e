package http

import (
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/http/templates"
	"salvi/app/internal/metrics"
	"salvi/app/internal/permission"
	"salvi/app/internal/transfer"
	"salvi/app/internal/wiki"
)

const defaultAuthHeader = "X-Remote-User"

// Options configures the HTTP server wiring.
type Options struct {
	Wiki        *wiki.Service
	Directory   *permission.Directory
	Exporter    *transfer.Exporter
	Importer    *transfer.Importer
	Database    *gorm.DB
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
	// AuthHeader names the header a trusted proxy fills with the user name.
	AuthHeader   string
	SiteTitle    string
	ItemsPerPage int
	Extensions   []string
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the HTTP transport layer via Huma and templ components.
type Server struct {
	api          huma.API
	mux          *stdhttp.ServeMux
	wiki         *wiki.Service
	directory    *permission.Directory
	exporter     *transfer.Exporter
	importer     *transfer.Importer
	metrics      *metrics.Metrics
	logger       *logrus.Logger
	sentry       *sentry.Hub
	db           *gorm.DB
	rateLimiter  *RateLimiter
	authHeader   string
	site         templates.Site
	itemsPerPage int
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Wiki == nil {
		return nil, eris.New("wiki service is required")
	}
	if opts.Directory == nil {
		return nil, eris.New("user directory is required")
	}
	if opts.Database == nil {
		return nil, eris.New("database is required")
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	title := opts.SiteTitle
	if title == "" {
		title = "Salvi"
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig(title, "1.0.0")

	api := humago.New(mux, config)

	srv := &Server{
		api:          api,
		mux:          mux,
		wiki:         opts.Wiki,
		directory:    opts.Directory,
		exporter:     opts.Exporter,
		importer:     opts.Importer,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		sentry:       opts.SentryHub,
		db:           opts.Database,
		authHeader:   opts.AuthHeader,
		site:         templates.Site{Title: title},
		itemsPerPage: opts.ItemsPerPage,
	}
	if srv.authHeader == "" {
		srv.authHeader = defaultAuthHeader
	}
	if srv.itemsPerPage <= 0 {
		srv.itemsPerPage = 20
	}

	srv.rateLimiter = NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL)

	srv.registerMiddlewares()
	srv.registerRoutes()

	if err := srv.registerExtensions(opts.Extensions); err != nil {
		srv.rateLimiter.Close()
		return nil, err
	}

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.identityMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("GET /static/", staticHandler())
	s.mux.HandleFunc("GET /robots.txt", robotsHandler)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.registerPageRoutes()
	s.registerAPIRoutes()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
