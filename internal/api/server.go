package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceDirectory reports whether a device is known to the point directory.
type DeviceDirectory interface {
	DeviceExists(ctx context.Context, tenantID string, deviceID int64) (bool, error)
}

// TrendSource returns recent samples per point of a device.
type TrendSource interface {
	QueryTrends(ctx context.Context, tenantID string, deviceID int64, window time.Duration) (map[string][]influxdb.TrendSample, error)
	TrendWindow() time.Duration
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Cascade  *gateway.Cascade
	Expander *gateway.Expander
	Registry *gateway.Registry
	Poller   *gateway.PollEngine
	Stats    *gateway.Stats

	// Devices and Trends are optional.
	Devices DeviceDirectory
	Trends  TrendSource

	// Gatherer backs /metrics and Registerer receives the HTTP collectors.
	// Either may be nil.
	Gatherer   prometheus.Gatherer
	Registerer prometheus.Registerer

	Version string
}

// Server is the HTTP API server of the gateway.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	cascade   *gateway.Cascade
	expander  *gateway.Expander
	registry  *gateway.Registry
	poller    *gateway.PollEngine
	stats     *gateway.Stats
	devices   DeviceDirectory
	trends    TrendSource
	gatherer  prometheus.Gatherer
	metrics   *httpMetrics
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cascade == nil || deps.Expander == nil {
		return nil, fmt.Errorf("cascade and expander are required")
	}
	if deps.Registry == nil || deps.Poller == nil {
		return nil, fmt.Errorf("subscription registry and poll engine are required")
	}
	if deps.Stats == nil {
		return nil, fmt.Errorf("stats provider is required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		cascade:   deps.Cascade,
		expander:  deps.Expander,
		registry:  deps.Registry,
		poller:    deps.Poller,
		stats:     deps.Stats,
		devices:   deps.Devices,
		trends:    deps.Trends,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Registerer != nil {
		s.metrics = newHTTPMetrics(deps.Registerer)
	}

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
