package core

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
)

// Response is a fully built HTTP response ready to be written to a
// stream. Implementations are tagged variants (file body, string body,
// empty body) behind a single write capability.
type Response interface {
	// Write serializes the status line, headers and body to w.
	Write(w io.Writer) error
	// StatusCode returns the HTTP status.
	StatusCode() int
	// KeepAlive reports whether the connection may serve another request
	// after this response.
	KeepAlive() bool
}

// ResponseBuilder turns a parsed request into a response. Request-level
// failures (bad method, illegal target, missing file) are mapped to error
// responses, never to Go errors; a builder never kills a session.
type ResponseBuilder interface {
	Build(req *http.Request) Response
}

// TLSProvider defines how to retrieve the server certificate.
// It abstracts away the storage mechanism (file, secret store, etc).
type TLSProvider interface {
	GetCertificate(ctx context.Context) (*tls.Certificate, error)
	Store(ctx context.Context, certPEM, keyPEM []byte) error
}
