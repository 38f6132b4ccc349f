package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sandboxhq/sandboxd/pkg/chaos"
	"github.com/sandboxhq/sandboxd/pkg/httputil"
	"github.com/sandboxhq/sandboxd/pkg/logging"
	"github.com/sandboxhq/sandboxd/pkg/metrics"
)

// Server wires the pipeline, the scrape endpoint and the liveness
// probe into one HTTP listener with graceful shutdown.
type Server struct {
	srv             *http.Server
	lg              *slog.Logger
	shutdownTimeout time.Duration
}

// ServerOptions configures the HTTP front of a Pipeline.
type ServerOptions struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	Chaos    chaos.Config
	Recorder *metrics.Recorder
	Logger   *slog.Logger
}

// NewServer builds the listener around an assembled pipeline. Mock
// traffic flows through the chaos middleware; /healthz and /metrics
// bypass it.
func NewServer(pipeline *Pipeline, opts ServerOptions) *Server {
	lg := opts.Logger
	if lg == nil {
		lg = logging.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", opts.Recorder.Handler())
	mux.Handle("/", chaos.Middleware(chaos.NewInjector(opts.Chaos), pipeline))

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		lg:              lg,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Handler exposes the composed mux for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is canceled, then drains within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.lg.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.lg.Info("shutting down", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine: shutdown: %w", err)
	}
	return <-errCh
}
