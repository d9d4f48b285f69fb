// Package sniff classifies the opening bytes of a connection as a TLS
// ClientHello or cleartext, without consuming them.
package sniff

import (
	"bufio"
	"net"
)

// A TLS ClientHello opens with a handshake record header:
// content type 0x16, record version 0x03 0x0?, then the handshake type.
const (
	recordTypeHandshake      = 0x16
	recordVersionMajor       = 0x03
	recordVersionMinorMax    = 0x04
	handshakeTypeClientHello = 0x01
)

// detectLen covers the record header (5 bytes) plus the handshake type.
const detectLen = 6

// DetectTLS peeks at the first bytes buffered by r and reports whether
// they begin a TLS ClientHello. The bytes stay in r's buffer, so the
// chosen protocol stack sees them verbatim.
func DetectTLS(r *bufio.Reader) (bool, error) {
	b, err := r.Peek(detectLen)
	if len(b) > 0 && b[0] != recordTypeHandshake {
		// Fast negative: whatever follows, this is not TLS.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b[1] == recordVersionMajor &&
		b[2] <= recordVersionMinorMax &&
		b[5] == handshakeTypeClientHello, nil
}

// Conn replays bytes retained in the sniff buffer before reading from the
// underlying connection. Writes, deadlines and close pass straight
// through.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// NewConn wraps c so reads drain r first.
func NewConn(c net.Conn, r *bufio.Reader) *Conn {
	return &Conn{Conn: c, r: r}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
