// Package api exposes the status endpoints: health, readiness and
// Prometheus metrics. The status server is infrastructure and runs
// outside the task group.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
)

const shutdownTimeout = 5 * time.Second

type StatusServer struct {
	server *http.Server
	ready  atomic.Bool
	addr   atomic.Value // string, set once listening
}

// NewStatusServer builds the status server for addr, serving metrics from
// the given gatherer.
func NewStatusServer(addr string, gatherer prometheus.Gatherer) *StatusServer {
	mux := http.NewServeMux()
	s := &StatusServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}

	// Not ready until the accept loop is running.
	s.ready.Store(false)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr.Store(listener.Addr().String())
	logger.Info("Status server listening", "addr", listener.Addr().String())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// Addr returns the bound address once Run has started listening.
func (s *StatusServer) Addr() string {
	if addr, ok := s.addr.Load().(string); ok {
		return addr
	}
	return s.server.Addr
}

// SetReady flips the readiness probe.
func (s *StatusServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *StatusServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}
