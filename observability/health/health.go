// Package health exposes the pool's readiness over the standard gRPC health
// checking protocol.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported alongside the overall status.
const ServiceName = "megaluck.redeem.Pool"

const (
	defaultInterval = 5 * time.Second
	stopTimeout     = 5 * time.Second
)

// Checker reports nil while the pool can serve claims.
type Checker func() error

type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	check    Checker
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(check Checker, opts ...Option) *Server {
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   grpchealth.NewServer(),
		check:    check,
		clock:    clockwork.NewRealClock(),
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "health"))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Refresh()
	return s
}

// Refresh runs the checker once and publishes the result.
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		if err := s.check(); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Debug("pool not serving", slog.Any("error", err))
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve answers health checks on ln and re-evaluates the checker every
// interval until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("grpc health listening", slog.String("addr", ln.Addr().String()))
		serveErr <- s.grpc.Serve(ln)
	}()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.Refresh()
		case err := <-serveErr:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.health.Shutdown()
			stopped := make(chan struct{})
			go func() {
				s.grpc.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(stopTimeout):
				s.grpc.Stop()
			}
			return nil
		}
	}
}
