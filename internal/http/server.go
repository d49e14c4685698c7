package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"churnboard/internal/cache"
	applog "churnboard/internal/log"
	"churnboard/internal/middleware/ratelimit"
	"churnboard/internal/middleware/security"
	"churnboard/internal/middleware/trace"
	"churnboard/internal/services"
	appweb "churnboard/web"
)

// ReadinessCheck probes one optional dependency for /readyz.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the dashboard server. Zero values select defaults.
type Options struct {
	Logger             *applog.Logger
	MaxUploadBytes     int64
	RateLimitPerMinute int // 0 disables rate limiting of write routes
	CacheSweepInterval time.Duration
	Checks             map[string]ReadinessCheck
}

type Server struct {
	http.Server
	templates *template.Template
	reports   *services.ReportService
	uploads   *services.UploadService
	logger    *applog.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	cacheManager     *cache.Manager

	maxUploadBytes int64
	checks         map[string]ReadinessCheck
	appMetrics     *appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime        time.Time
	uploads       atomic.Int64
	deletions     atomic.Int64
	imports       atomic.Int64
	reportsBuilt  atomic.Int64
	reportsFailed atomic.Int64
}

const defaultMaxUploadBytes = 50 << 20

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(addr string, reports *services.ReportService, uploads *services.UploadService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.CacheSweepInterval <= 0 {
		opts.CacheSweepInterval = 5 * time.Minute
	}

	mux := http.NewServeMux()
	s := &Server{
		reports:          reports,
		uploads:          uploads,
		logger:           logger,
		securityDetector: security.NewDetector(),
		cacheManager:     cache.NewManager(),
		maxUploadBytes:   opts.MaxUploadBytes,
		checks:           opts.Checks,
		appMetrics:       &appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.securityDetector.ExtractClientIP)

	s.cacheManager.Register("datasets", reports.Cache())
	s.cacheManager.StartCleanup(context.Background(), opts.CacheSweepInterval)

	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	write := func(h http.HandlerFunc) http.Handler { return h }
	if opts.RateLimitPerMinute > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
		limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimit)
		write = func(h http.HandlerFunc) http.Handler { return limit(h) }
	}

	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	uploadRoutes := applog.ComponentMiddleware(applog.ComponentUpload)
	mux.Handle("/uploads", uploadRoutes(write(s.handleUpload)))
	mux.Handle("/uploads/delete", uploadRoutes(write(s.handleDelete)))
	mux.Handle("/uploads/import", uploadRoutes(write(s.handleImport)))

	reportRoutes := applog.ComponentMiddleware(applog.ComponentReport)
	mux.Handle("/ui/preview", reportRoutes(http.HandlerFunc(s.handlePreview)))
	mux.Handle("/ui/report", reportRoutes(http.HandlerFunc(s.handleReport)))
	mux.Handle("/ui/history", applog.ComponentMiddleware(applog.ComponentCatalog)(http.HandlerFunc(s.handleHistory)))
	mux.Handle("/api/charts", reportRoutes(http.HandlerFunc(s.handleCharts)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = headers.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	NewHTMXResponse().
		Status(http.StatusTooManyRequests).
		Header("Retry-After", "60").
		TriggerErrorNotification("Too many requests. Please try again in a minute.").
		BodyHTML(`<div class="error" role="alert">Too many requests. Please try again in a minute.</div>`).
		Write(w)
}

// requestLog is the structured logger of the request, tagged with its ID and
// route component.
func (s *Server) requestLog(r *http.Request) *applog.StructuredLogger {
	return applog.NewStructuredLogger(applog.FromContext(r.Context()))
}

// Shutdown stops background goroutines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
