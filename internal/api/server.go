package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/management"
	"github.com/nerrad567/ssds-ingest/internal/ingest"
	"github.com/nerrad567/ssds-ingest/internal/sink"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PipelineStatus reports the state of an ingestion pipeline.
// *ingest.Pipeline implements it.
type PipelineStatus interface {
	State() ingest.State
	Stats() ingest.Stats
	Err() error
}

// QueueLister lists broker queues. *management.Directory implements it.
type QueueLister interface {
	ListQueues(ctx context.Context, vhost string) ([]management.QueueDescriptor, error)
}

// PacketArchive reads archived packets. *sink.Archive implements it.
type PacketArchive interface {
	Recent(ctx context.Context, sourceID int64, limit int) ([]sink.Record, error)
	Count(ctx context.Context) (int64, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server. Only Logger is required;
// endpoints whose dependency is missing answer 503.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Pipeline  PipelineStatus
	Directory QueueLister
	VHost     string
	Archive   PacketArchive
	Checks    map[string]HealthChecker
	Gatherer  prometheus.Gatherer
	Version   string
}

// Server is the diagnostics HTTP server.
//
// It is created with New() and started with Start().
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	pipeline  PipelineStatus
	directory QueueLister
	vhost     string
	archive   PacketArchive
	checks    map[string]HealthChecker
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger plus whichever of pipeline, directory, archive and
//     health checks this process has
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If the logger is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.With("component", "api"),
		pipeline:  deps.Pipeline,
		directory: deps.Directory,
		vhost:     deps.VHost,
		archive:   deps.Archive,
		checks:    deps.Checks,
		gatherer:  gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
//
// The listener is bound before Start returns, so an address in use is
// reported here rather than logged later.
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
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
