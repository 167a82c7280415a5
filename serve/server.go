package serve

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Addr    string
	Status  StatusSource
	Preview http.Handler // optional
	// StatsPeriod is the websocket push interval.
	StatsPeriod time.Duration
}

// Server hosts /metrics, /stats, /statsws and /preview.
type Server struct {
	Addr string

	http    *http.Server
	updater *StatsUpdater
}

func NewServer(opts Options) *Server {
	updater := NewStatsUpdater(opts.Status, opts.StatsPeriod)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/stats", &StatsServer{Source: opts.Status})
	mux.Handle("/statsws", updater)
	if opts.Preview != nil {
		mux.Handle("/preview", opts.Preview)
	}

	w := log.StandardLogger().WriterLevel(log.DebugLevel)
	var h http.Handler = handlers.CombinedLoggingHandler(w, mux)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()), handlers.PrintRecoveryStack(true))(h)

	return &Server{
		Addr:    opts.Addr,
		updater: updater,
		http: &http.Server{
			Addr:    opts.Addr,
			Handler: h,
		},
	}
}

// Handler is the wrapped mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled. Streaming requests see ctx as their
// base context so they end with it.
func (s *Server) Run(ctx context.Context) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	errc := make(chan error, 1)
	go func() {
		log.Infof("Hosting HTTP on %s", s.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.updater.Close()
		return err
	case <-ctx.Done():
	}

	s.updater.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}
	return nil
}
