package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/gateway/config"
	"github.com/vango-go/vai-dealroom/pkg/gateway/handlers"
	"github.com/vango-go/vai-dealroom/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-dealroom/pkg/gateway/metrics"
	"github.com/vango-go/vai-dealroom/pkg/gateway/mw"
	"github.com/vango-go/vai-dealroom/pkg/gateway/ratelimit"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	lifecycle  *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
		},
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		httpClient: httpClient,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
		lifecycle: &lifecycle.Lifecycle{},
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New("dealroom")
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	var token http.Handler = handlers.TokenHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Metrics:    s.metrics,
		Lifecycle:  s.lifecycle,
	}
	if s.cfg.HandlerTimeout > 0 {
		token = http.TimeoutHandler(token, s.cfg.HandlerTimeout, `{"error":"request timeout"}`)
	}
	s.mux.Handle("/api/conversation-token", token)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, s.cfg.TrustProxyHeaders, s.metrics, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips /readyz to not ready ahead of shutdown.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// InFlight returns the number of token exchanges still running.
func (s *Server) InFlight() int64 {
	return s.lifecycle.InFlight()
}
