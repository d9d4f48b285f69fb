// Package server wires the acceptor, the connection sessions and the
// task group into the LPBackend server lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/api"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/config"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/core"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/metrics"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/plugin"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/task"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/tlsutil"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/version"
)

// drainTimeout bounds the cooperative phase of a graceful stop before
// escalating to terminal cancellation.
const drainTimeout = 10 * time.Second

// Server owns the listening socket, the task group supervising the
// acceptor and every session, and the collaborator set.
type Server struct {
	cfg         *config.Config
	builder     core.ResponseBuilder
	tlsProvider core.TLSProvider
	collector   *metrics.Collector

	group     *task.Group
	tlsConfig *tls.Config
	status    *api.StatusServer

	mu           sync.Mutex
	listener     net.Listener
	stopping     bool
	statusCancel context.CancelFunc

	drain    time.Duration
	done     chan struct{}
	doneOnce sync.Once
}

// New constructs an unstarted server around its collaborators.
func New(cfg *config.Config, builder core.ResponseBuilder, tlsProvider core.TLSProvider, collector *metrics.Collector) *Server {
	return &Server{
		cfg:         cfg,
		builder:     builder,
		tlsProvider: tlsProvider,
		collector:   collector,
		group:       task.NewGroup(),
		drain:       drainTimeout,
		done:        make(chan struct{}),
	}
}

// Descriptor implements plugin.Plugin.
func (s *Server) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "lpbackend::server",
		Version:     version.Version,
		Description: "Laptis Dev Forum Backend Core",
		Authors:     []string{"Laptis"},
		Website:     "https://github.com/laptisdev/lpbackend",
		SPDXLicense: "MIT",
	}
}

// Initialize implements plugin.Plugin: it loads the TLS material and
// prepares the document root. A TLS failure is fatal only when cleartext
// connections are rejected; otherwise HTTPS is disabled and the server
// keeps serving HTTP.
func (s *Server) Initialize(*plugin.Manager) error {
	logger.Info("Loading SSL certificates")
	cert, err := s.tlsProvider.GetCertificate(context.Background())
	switch {
	case err == nil:
		s.tlsConfig = tlsutil.ServerConfig(*cert)
	case s.cfg.SSL.ForceSSL:
		logger.Error("Failed to load SSL certificates", "error", err)
		return err
	default:
		logger.Warn("Failed to load SSL certificates, HTTPS is disabled", "error", err)
	}

	if err := os.MkdirAll(s.cfg.HTTP.DocRoot, 0o755); err != nil {
		return err
	}
	return nil
}

// Start binds the listener, spawns the acceptor under supervision and
// launches the status server. It does not block.
func (s *Server) Start() error {
	runtime.GOMAXPROCS(int(s.cfg.Asio.WorkerThreads))
	logger.Info("Starting LPBackend server", "worker_threads", s.cfg.Asio.WorkerThreads)
	logger.Debug("Idle timeout hint", "timeout_milliseconds", s.cfg.Networking.TimeoutMilliseconds)

	addr := net.JoinHostPort(s.cfg.Networking.ListenAddress, strconv.Itoa(int(s.cfg.Networking.ListenPort)))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	logger.Info("Server listening", "addr", listener.Addr().String())

	if s.cfg.API.StatusAddress != "" {
		s.status = api.NewStatusServer(s.cfg.API.StatusAddress, s.collector.Registry())
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.statusCancel = cancel
		s.mu.Unlock()
		go func() {
			if err := s.status.Run(ctx); err != nil {
				logger.Error("Status server error", "error", err)
			}
		}()
		s.status.SetReady(true)
	}

	s.group.Spawn(s.acceptLoop, func(err error) {
		if err == nil || errors.Is(err, task.ErrAborted) {
			return
		}
		logger.Error("Exception occurred on accepting connections", "error", err)
		go s.Stop()
	})
	return nil
}

// Run starts the server, installs the signal handler and blocks until the
// server has stopped.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	go s.handleSignals()
	<-s.done
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts connections and spawns a supervised session per
// socket. Total cancellation closes the listener, which surfaces as a
// clean abort; any other accept error is fatal.
func (s *Server) acceptLoop(tok *task.Token) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	stopWatch := closeOnCancel(tok, listener)
	defer stopWatch()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if tok.Cancelled() || errors.Is(err, net.ErrClosed) {
				return task.ErrAborted
			}
			return err
		}

		id := uuid.NewString()
		sess := &session{
			conn:      conn,
			tlsConfig: s.tlsConfig,
			forceSSL:  s.cfg.SSL.ForceSSL,
			builder:   s.builder,
			collector: s.collector,
			lg:        logger.With("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		}
		s.group.Spawn(sess.run, func(err error) {
			if err != nil && !errors.Is(err, task.ErrAborted) {
				logger.Error("Exception occurred in session", "session_id", id, "error", err)
			}
		})
	}
}

// closeOnCancel closes the listener once total (or stronger) cancellation
// is requested, aborting a blocked Accept.
func closeOnCancel(tok *task.Token, listener net.Listener) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-tok.Total():
			listener.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// handleSignals maps OS signals onto the shutdown paths: interrupt stops
// gracefully, terminate stops hard. It runs detached, outside the task
// group, so that it can itself trigger the drain.
func (s *Server) handleSignals() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		if sig == syscall.SIGTERM {
			s.Terminate()
			return
		}
		s.Stop()
	case <-s.done:
	}
}

// Stop performs the two-phase graceful shutdown: emit total cancellation
// and await drain for up to the drain timeout, then escalate to terminal
// cancellation and await drain unbounded.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	logger.Info("Stopping LPBackend server")
	s.group.Emit(task.LevelTotal)

	logger.Info("Waiting for child tasks to terminate", "timeout", s.drain)
	ctx, cancel := context.WithTimeout(context.Background(), s.drain)
	err := s.group.Wait(ctx)
	cancel()

	if err != nil { // Timed out
		logger.Error("Terminating child tasks")
		s.group.Emit(task.LevelTerminal)
		s.group.Wait(context.Background())
	}

	s.shutdown()
}

// Terminate is the last-resort path: it bypasses the task group and tears
// the server down immediately.
func (s *Server) Terminate() {
	logger.Info("Terminating LPBackend server")
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.shutdown()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.statusCancel != nil {
		s.statusCancel()
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Close persists the configuration and releases remaining resources. It
// is meant to run once the server has stopped.
func (s *Server) Close() error {
	logger.Info("Destructing LPBackend server")
	return s.cfg.Save()
}
