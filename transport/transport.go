package transport

import (
	"errors"
	"net/http"
)

var (
	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("transport closed")
	// ErrBusy is returned when a Post or Read is issued while another one is
	// still outstanding.
	ErrBusy = errors.New("transport busy")
)

// Header is delivered once per Post when the response headers arrive or the
// request fails before that point.
type Header struct {
	StatusCode int
	// ContentLength is the announced body length, or 0 when the server gave
	// no hint.
	ContentLength int64
	Err           error
}

// Chunk is delivered once per Read.
type Chunk struct {
	Data []byte
	// ContentLength is the most recent body length hint, 0 when unknown.
	ContentLength int64
	// Finished reports that the whole body has been received.
	Finished bool
	Err      error
}

// Transport issues one POST at a time and reports progress through
// callbacks. Implementations never invoke a callback synchronously from Post
// or Read, and never invoke one after Close has returned.
type Transport interface {
	// Post submits body to uri. A nil error means onHeader will be called
	// exactly once, unless the transport is closed first.
	Post(uri string, header http.Header, body []byte, onHeader func(Header)) error
	// Read asks for up to n more body bytes of the current response. A nil
	// error means onChunk will be called exactly once, unless the transport
	// is closed first.
	Read(n int, onChunk func(Chunk)) error
	// Close aborts any outstanding operation. It does not wait for a callback
	// that is already running.
	Close() error
}

// ProxySetter is implemented by transports that can route through an HTTP
// proxy.
type ProxySetter interface {
	SetProxy(proxy string) error
	ClearProxy() error
}
