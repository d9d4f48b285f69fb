package server

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/httpfile"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/metrics"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/task"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/testutil"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/tlsutil"
)

func testBuilder(t *testing.T) *httpfile.Builder {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "home.html"), []byte("<h1>hi</h1>"), 0o644))
	return &httpfile.Builder{DocRoot: root, FallbackFile: "home.html"}
}

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	certPEM, keyPEM := testutil.GenerateSelfSignedCert(t)
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return tlsutil.ServerConfig(cert)
}

// startSession accepts one connection on a loopback listener, runs a
// session over it under group supervision, and returns the client side
// plus the completion result channel.
func startSession(t *testing.T, group *task.Group, tlsConfig *tls.Config, forceSSL bool) (net.Conn, chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	builder := testBuilder(t)
	result := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			result <- err
			return
		}
		sess := &session{
			conn:      conn,
			tlsConfig: tlsConfig,
			forceSSL:  forceSSL,
			builder:   builder,
			collector: metrics.NewCollector("test"),
			lg:        logger.With("session_id", "test"),
		}
		group.Spawn(sess.run, func(err error) { result <- err })
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, result
}

func readResponse(t *testing.T, r *bufio.Reader) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func waitResult(t *testing.T, result chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
		return nil
	}
}

func TestSession_KeepAliveServesSequentialRequests(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)
	reader := bufio.NewReader(client)

	for i := 0; i < 3; i++ {
		_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		require.NoError(t, err)

		resp, body := readResponse(t, reader)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
		assert.Equal(t, "<h1>hi</h1>", string(body))
	}

	client.Close()
	require.NoError(t, waitResult(t, result))
}

func TestSession_ConnectionCloseEndsSession(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	resp, body := readResponse(t, reader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// The stdlib parser consumes "Connection: close" into resp.Close.
	assert.True(t, resp.Close)
	assert.Equal(t, "<h1>hi</h1>", string(body))

	require.NoError(t, waitResult(t, result))

	// The server side closed; the next read sees EOF.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_TLSServesRequests(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, testTLSConfig(t), false)

	tlsClient := tls.Client(client, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, tlsClient.Handshake())

	_, err := tlsClient.Write([]byte("GET /home.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, body := readResponse(t, bufio.NewReader(tlsClient))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>hi</h1>", string(body))

	require.NoError(t, waitResult(t, result))
}

func TestSession_ForceSSLRejectsCleartext(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, testTLSConfig(t), true)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	// No response: the socket is half-closed without any bytes.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := client.Read(buf)
	assert.Error(t, err)
	assert.Zero(t, n)

	require.NoError(t, waitResult(t, result))
}

func TestSession_TotalCancellationFinishesInFlightRequest(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)
	reader := bufio.NewReader(client)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, _ := readResponse(t, reader)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session is now blocked reading the next request. Total
	// cancellation must not truncate the response to a request that
	// still arrives; it is observed once the response is written.
	group.Emit(task.LevelTotal)

	_, err = client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, body := readResponse(t, reader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>hi</h1>", string(body))

	require.NoError(t, waitResult(t, result))
}

func TestSession_TerminalCancellationAbortsBlockedRead(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)
	reader := bufio.NewReader(client)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, _ := readResponse(t, reader)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	group.Emit(task.LevelTerminal)

	err = waitResult(t, result)
	assert.ErrorIs(t, err, task.ErrAborted)
}

func TestSession_WebSocketUpgradeEndsSessionSilently(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)

	_, err := client.Write([]byte("GET /chat HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, waitResult(t, result))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_EOFBeforeAnyRequestIsClean(t *testing.T) {
	group := task.NewGroup()
	client, result := startSession(t, group, nil, false)

	client.Close()
	require.NoError(t, waitResult(t, result))
}
