// Package httpfile builds static file responses for GET and HEAD
// requests rooted at a document directory.
package httpfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/core"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/version"
)

// Builder maps request targets onto files under DocRoot. Targets ending
// in "/" are served from FallbackFile in the named directory.
type Builder struct {
	DocRoot      string
	FallbackFile string
	// Open lets tests substitute the filesystem; nil means the OS one.
	Open func(name string) (fs.File, error)
}

var _ core.ResponseBuilder = (*Builder)(nil)

// Build implements core.ResponseBuilder.
func (b *Builder) Build(req *http.Request) core.Response {
	keep := !req.Close

	// Make sure we can handle the method
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return textResponse(http.StatusBadRequest, "Unknown HTTP-method", keep)
	}

	// Request path must be absolute and not contain "..". The substring
	// check also rejects legitimate names like "file..txt"; kept that way
	// deliberately.
	target := req.RequestURI
	if target == "" || target[0] != '/' || strings.Contains(target, "..") {
		return textResponse(http.StatusBadRequest, "Illegal request-target", keep)
	}

	// Build the path to the requested file
	path := pathCat(b.DocRoot, target)
	if strings.HasSuffix(target, "/") {
		path += b.FallbackFile
	}

	// Attempt to open the file
	open := b.Open
	if open == nil {
		open = func(name string) (fs.File, error) { return os.Open(name) }
	}
	f, err := open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return textResponse(http.StatusNotFound,
			fmt.Sprintf("The resource \"%s\" was not found.", target), keep)
	}
	if err != nil {
		return textResponse(http.StatusInternalServerError,
			fmt.Sprintf("An error occurred: \"%s\"", err.Error()), keep)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return textResponse(http.StatusInternalServerError,
			fmt.Sprintf("An error occurred: \"%s\"", err.Error()), keep)
	}
	if info.IsDir() {
		f.Close()
		return textResponse(http.StatusNotFound,
			fmt.Sprintf("The resource \"%s\" was not found.", target), keep)
	}

	resp := &Response{
		Code:          http.StatusOK,
		ContentType:   MimeType(filepath.Ext(path)),
		ContentLength: info.Size(),
		Keep:          keep,
	}
	if req.Method == http.MethodHead {
		f.Close()
		return resp
	}
	resp.Body = f
	return resp
}

// pathCat appends an HTTP rel-path to a local filesystem path.
func pathCat(base, target string) string {
	if base == "" {
		return target
	}
	result := base
	if strings.HasSuffix(result, "/") {
		result = result[:len(result)-1]
	}
	return result + target
}

// Response is the tagged response variant: a string body for errors, a
// file body for GET, no body for HEAD.
type Response struct {
	Code          int
	ContentType   string
	ContentLength int64
	Keep          bool
	Body          io.ReadCloser
}

var _ core.Response = (*Response)(nil)

func textResponse(code int, body string, keep bool) *Response {
	return &Response{
		Code:          code,
		ContentType:   "text/html",
		ContentLength: int64(len(body)),
		Keep:          keep,
		Body:          io.NopCloser(strings.NewReader(body)),
	}
}

// StatusCode implements core.Response.
func (r *Response) StatusCode() int {
	return r.Code
}

// KeepAlive implements core.Response.
func (r *Response) KeepAlive() bool {
	return r.Keep
}

// Write serializes the response. The head is assembled in one buffer so a
// response is emitted with a single write before the body begins.
func (r *Response) Write(w io.Writer) error {
	var head bytes.Buffer
	fmt.Fprintf(&head, "HTTP/1.1 %d %s\r\n", r.Code, http.StatusText(r.Code))
	fmt.Fprintf(&head, "Server: %s\r\n", version.Identifier())
	fmt.Fprintf(&head, "Content-Type: %s\r\n", r.ContentType)
	fmt.Fprintf(&head, "Content-Length: %d\r\n", r.ContentLength)
	if r.Keep {
		head.WriteString("Connection: keep-alive\r\n")
	} else {
		head.WriteString("Connection: close\r\n")
	}
	head.WriteString("\r\n")

	if _, err := w.Write(head.Bytes()); err != nil {
		return err
	}
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if _, err := io.Copy(w, r.Body); err != nil {
		return err
	}
	return nil
}
