// Package transporttest provides a scripted transport.Transport for tests.
package transporttest

import (
	"errors"
	"net/http"
	"sync"

	"github.com/five82/infinario/transport"
)

var _ transport.Transport = (*Fake)(nil)

// Response scripts the outcome of one Post.
type Response struct {
	// PostErr makes Post fail synchronously.
	PostErr error
	// HeaderErr is delivered in the Header notification.
	HeaderErr error
	// Hang keeps the exchange pending forever; no header is delivered.
	Hang       bool
	StatusCode int
	// ContentLength is announced with the header.
	ContentLength int64
	// Chunks are handed out one per Read, regardless of the requested size.
	Chunks [][]byte
	// Hints overrides Chunk.ContentLength per chunk when set.
	Hints []int64
	// BodyErr is delivered by the Read after the last chunk. When nil the
	// last chunk is marked finished.
	BodyErr error
	// ReadErr makes Read fail synchronously once the chunks are exhausted.
	ReadErr error
	// HangBody keeps the Read after the last chunk pending forever.
	HangBody bool
}

// OK scripts a successful response with an announced length.
func OK(body string) Response {
	return Response{
		StatusCode:    http.StatusOK,
		ContentLength: int64(len(body)),
		Chunks:        [][]byte{[]byte(body)},
	}
}

// Chunked scripts a successful response of unknown length.
func Chunked(parts ...string) Response {
	chunks := make([][]byte, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, []byte(part))
	}
	return Response{StatusCode: http.StatusOK, Chunks: chunks}
}

// Post records one Post call.
type Post struct {
	URI    string
	Header http.Header
	Body   []byte
}

// Fake replays scripted responses in Post order. When the script runs out
// every further Post hangs.
type Fake struct {
	mu        sync.Mutex
	script    []Response
	posts     []Post
	reads     []int
	current   *Response
	nextChunk int
	closed    bool
	proxy     string
}

// New returns a Fake replaying responses.
func New(responses ...Response) *Fake {
	return &Fake{script: responses}
}

// Push appends responses to the script.
func (f *Fake) Push(responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, responses...)
}

// Post implements transport.Transport.
func (f *Fake) Post(uri string, header http.Header, body []byte, onHeader func(transport.Header)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.posts = append(f.posts, Post{URI: uri, Header: header.Clone(), Body: append([]byte(nil), body...)})

	resp := Response{Hang: true}
	if len(f.script) > 0 {
		resp = f.script[0]
		f.script = f.script[1:]
	}
	if resp.PostErr != nil {
		f.current = nil
		return resp.PostErr
	}
	f.current = &resp
	f.nextChunk = 0
	if resp.Hang {
		return nil
	}
	h := transport.Header{StatusCode: resp.StatusCode, ContentLength: resp.ContentLength, Err: resp.HeaderErr}
	go f.deliver(func() { onHeader(h) })
	return nil
}

// Read implements transport.Transport.
func (f *Fake) Read(n int, onChunk func(transport.Chunk)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.current == nil {
		return errors.New("read: no response in flight")
	}
	f.reads = append(f.reads, n)

	resp := f.current
	idx := f.nextChunk
	f.nextChunk++
	if idx >= len(resp.Chunks) {
		if resp.ReadErr != nil {
			return resp.ReadErr
		}
		if resp.HangBody {
			return nil
		}
		c := transport.Chunk{ContentLength: resp.ContentLength, Err: resp.BodyErr, Finished: resp.BodyErr == nil}
		go f.deliver(func() { onChunk(c) })
		return nil
	}

	c := transport.Chunk{
		Data:          resp.Chunks[idx],
		ContentLength: resp.ContentLength,
		Finished:      idx == len(resp.Chunks)-1 && resp.BodyErr == nil && resp.ReadErr == nil && !resp.HangBody,
	}
	if idx < len(resp.Hints) {
		c.ContentLength = resp.Hints[idx]
	}
	go f.deliver(func() { onChunk(c) })
	return nil
}

func (f *Fake) deliver(fn func()) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	fn()
}

// SetProxy implements transport.ProxySetter.
func (f *Fake) SetProxy(proxy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxy = proxy
	return nil
}

// ClearProxy implements transport.ProxySetter.
func (f *Fake) ClearProxy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxy = ""
	return nil
}

// Close implements transport.Transport.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Posts returns every recorded Post.
func (f *Fake) Posts() []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Post, len(f.posts))
	copy(out, f.posts)
	return out
}

// Reads returns the requested size of every Read.
func (f *Fake) Reads() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.reads))
	copy(out, f.reads)
	return out
}

// Proxy returns the proxy last set.
func (f *Fake) Proxy() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxy
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
