package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/core"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/metrics"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/sniff"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/task"
)

// detectTimeout bounds the protocol detection phase. Expiry is treated
// like a client disconnect.
const detectTimeout = 30 * time.Second

// session owns one accepted connection: protocol detection, the optional
// TLS handshake, the keep-alive HTTP loop, and cleanup.
//
// Cancellation posture: total cancellation is polled between requests,
// never forced into in-flight I/O, so a response under way is always
// written out whole. Terminal cancellation forces the connection deadline
// into the past, aborting every blocking operation. Cleanup (TLS
// shutdown) still runs after cancellation.
type session struct {
	conn      net.Conn
	tlsConfig *tls.Config
	forceSSL  bool
	builder   core.ResponseBuilder
	collector *metrics.Collector
	lg        *zap.SugaredLogger

	mu      sync.Mutex
	aborted bool
}

// run is the session body spawned under task group supervision.
func (s *session) run(tok *task.Token) error {
	defer s.conn.Close()
	defer s.collector.SessionStarted()()

	stopWatch := s.abortOnTerminal(tok)
	defer stopWatch()

	s.setDeadline(time.Now().Add(detectTimeout))
	reader := bufio.NewReader(s.conn)

	isTLS, err := sniff.DetectTLS(reader)
	if err != nil {
		return s.ioResult(tok, err)
	}

	switch {
	case isTLS:
		if s.tlsConfig == nil {
			s.lg.Error("Rejecting incoming HTTPS connection (TLS is not configured)")
			s.collector.ConnectionAccepted(metrics.ProtocolRejected)
			return nil
		}
		return s.runTLS(tok, reader)

	case !s.forceSSL:
		s.lg.Info("Accepting incoming HTTP connection")
		s.collector.ConnectionAccepted(metrics.ProtocolHTTP)
		return s.serve(tok, s.conn, reader)

	default:
		s.lg.Error("Rejecting incoming HTTP connection (forcing SSL)")
		s.collector.ConnectionAccepted(metrics.ProtocolRejected)
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		return nil
	}
}

// runTLS hands the sniffed bytes to the TLS server, serves over the
// encrypted stream, and performs the closing handshake afterwards, even
// when the loop ended through cancellation.
func (s *session) runTLS(tok *task.Token, reader *bufio.Reader) error {
	tlsConn := tls.Server(sniff.NewConn(s.conn, reader), s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		if aborted := s.ioResult(tok, err); aborted == nil || errors.Is(aborted, task.ErrAborted) {
			return aborted
		}
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	s.lg.Info("Accepting incoming HTTPS connection")
	s.collector.ConnectionAccepted(metrics.ProtocolHTTPS)

	serveErr := s.serve(tok, tlsConn, bufio.NewReader(tlsConn))

	// A truncated close from the peer is benign.
	if err := tlsConn.CloseWrite(); err != nil && !benignShutdownError(err) {
		if abortErr := s.ioResult(tok, err); abortErr != nil && serveErr == nil {
			serveErr = abortErr
		}
	}
	return serveErr
}

// serve runs the keep-alive request loop over rw, reading parsed requests
// through reader.
func (s *session) serve(tok *task.Token, rw io.ReadWriter, reader *bufio.Reader) error {
	// The detection deadline does not apply to request processing.
	s.setDeadline(time.Time{})

	for !tok.Cancelled() {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return s.ioResult(tok, err)
		}

		if isWebSocketUpgrade(req) {
			// Upgrade handling hook: for now the session ends here and
			// the connection is released untouched.
			s.setDeadline(time.Time{})
			return nil
		}

		resp := s.builder.Build(req)
		s.collector.RequestServed(req.Method, resp.StatusCode())

		if err := resp.Write(rw); err != nil {
			return s.ioResult(tok, err)
		}
		if !resp.KeepAlive() {
			return nil
		}
	}
	return nil
}

// abortOnTerminal forces the connection deadline into the past as soon as
// terminal cancellation is emitted, so every blocking read and write
// aborts. The returned func stops the watcher.
func (s *session) abortOnTerminal(tok *task.Token) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-tok.Terminal():
			s.mu.Lock()
			s.aborted = true
			s.conn.SetDeadline(time.Now())
			s.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// setDeadline adjusts the connection deadline unless a terminal abort
// already pinned it.
func (s *session) setDeadline(t time.Time) {
	s.mu.Lock()
	if !s.aborted {
		s.conn.SetDeadline(t)
	}
	s.mu.Unlock()
}

// ioResult folds an I/O error into the session outcome: end of stream and
// detection expiry terminate the session cleanly, a forced terminal abort
// surfaces the aborted sentinel, anything else is a session error.
func (s *session) ioResult(tok *task.Token, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		if tok.Level() >= task.LevelTerminal {
			return task.ErrAborted
		}
		// Detection expiry is indistinguishable from a disconnect.
		return nil
	default:
		return err
	}
}

func benignShutdownError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func isWebSocketUpgrade(req *http.Request) bool {
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, value := range req.Header.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
