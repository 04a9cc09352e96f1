package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"pkt.systems/pslog"
)

// Ensure HTTP implements Transport and ProxySetter at compile time.
var (
	_ Transport   = (*HTTP)(nil)
	_ ProxySetter = (*HTTP)(nil)
)

const (
	defaultUserAgent = "infinario-go/0.1"
	requestTimeout   = 30 * time.Second
)

// HTTP is a Transport backed by a single req client. Each Post and Read runs
// on its own goroutine and reports back through the supplied callback.
type HTTP struct {
	client *req.Client
	logger pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	busy     bool
	body     io.ReadCloser
	expected int64
	received int64
	proxy    *url.URL
	direct   bool
}

// HTTPOption customises NewHTTP.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	timeout   time.Duration
	userAgent string
	logger    pslog.Logger
}

// WithTimeout bounds a whole exchange, headers and body included.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(c *httpConfig) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger supplies a logger for transport diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) HTTPOption {
	return func(c *httpConfig) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		c.logger = logger
	}
}

// NewHTTP builds an HTTP transport.
func NewHTTP(opts ...HTTPOption) *HTTP {
	cfg := httpConfig{
		timeout:   requestTimeout,
		userAgent: defaultUserAgent,
		logger:    pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &HTTP{
		logger: cfg.logger.With("sys", "transport.http"),
		ctx:    ctx,
		cancel: cancel,
	}
	// Installed once. SetProxy and ClearProxy only swap t.proxy.
	t.client = req.C().
		SetTimeout(cfg.timeout).
		SetUserAgent(cfg.userAgent).
		SetProxy(t.proxyFor).
		DisableAutoReadResponse()
	return t
}

func (t *HTTP) proxyFor(r *http.Request) (*url.URL, error) {
	t.mu.Lock()
	proxy, direct := t.proxy, t.direct
	t.mu.Unlock()
	if proxy != nil || direct {
		return proxy, nil
	}
	return http.ProxyFromEnvironment(r)
}

// Post implements Transport.
func (t *HTTP) Post(uri string, header http.Header, body []byte, onHeader func(Header)) error {
	if onHeader == nil {
		return fmt.Errorf("post %s: nil header callback", uri)
	}
	endpoint, err := parseEndpoint(uri)
	if err != nil {
		return err
	}
	target := endpoint.String()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.busy {
		t.mu.Unlock()
		return ErrBusy
	}
	t.dropBodyLocked()
	t.busy = true
	ctx := t.ctx
	t.mu.Unlock()

	r := t.client.R().SetContext(ctx).SetBodyBytes(body)
	for key, values := range header {
		for _, value := range values {
			r.SetHeader(key, value)
		}
	}
	t.logger.Trace("post.start", "uri", target, "bytes", len(body))

	go func() {
		resp, err := r.Post(target)
		h := Header{}
		if err != nil {
			h.Err = fmt.Errorf("execute request: %w", err)
		} else if resp == nil || resp.Response == nil {
			h.Err = errors.New("execute request: empty response")
		} else {
			h.StatusCode = resp.StatusCode
			if resp.ContentLength > 0 {
				h.ContentLength = resp.ContentLength
			}
		}

		t.mu.Lock()
		t.busy = false
		if t.closed {
			if h.Err == nil {
				_ = resp.Body.Close()
			}
			t.mu.Unlock()
			return
		}
		if h.Err == nil {
			t.body = resp.Body
			t.expected = h.ContentLength
			t.received = 0
		}
		t.mu.Unlock()

		if h.Err != nil {
			t.logger.Debug("post.failed", "uri", target, "error", h.Err)
		} else {
			t.logger.Trace("post.header", "uri", target, "status", h.StatusCode, "content_length", h.ContentLength)
		}
		onHeader(h)
	}()
	return nil
}

// Read implements Transport.
func (t *HTTP) Read(n int, onChunk func(Chunk)) error {
	if onChunk == nil {
		return errors.New("read: nil chunk callback")
	}
	if n <= 0 {
		return fmt.Errorf("read: invalid length %d", n)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.busy {
		t.mu.Unlock()
		return ErrBusy
	}
	if t.body == nil {
		t.mu.Unlock()
		return errors.New("read: no response in flight")
	}
	t.busy = true
	body := t.body
	t.mu.Unlock()

	go func() {
		buf := make([]byte, n)
		got, err := io.ReadFull(body, buf)
		finished := false
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			finished = true
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("read body: %w", err)
		}

		t.mu.Lock()
		t.busy = false
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.received += int64(got)
		if t.expected > 0 && t.received >= t.expected {
			finished = true
		}
		c := Chunk{
			Data:          buf[:got],
			ContentLength: t.expected,
			Finished:      finished,
			Err:           err,
		}
		if finished || err != nil {
			t.dropBodyLocked()
		}
		t.mu.Unlock()

		onChunk(c)
	}()
	return nil
}

// SetProxy routes subsequent requests through proxy.
func (t *HTTP) SetProxy(proxy string) error {
	u, err := parseEndpoint(proxy)
	if err != nil {
		return fmt.Errorf("set proxy: %w", err)
	}
	t.mu.Lock()
	t.proxy = u
	t.direct = false
	t.mu.Unlock()
	return nil
}

// ClearProxy disables proxying, including proxies picked up from the
// environment.
func (t *HTTP) ClearProxy() error {
	t.mu.Lock()
	t.proxy = nil
	t.direct = true
	t.mu.Unlock()
	return nil
}

// Close implements Transport.
func (t *HTTP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	t.dropBodyLocked()
	return nil
}

func (t *HTTP) dropBodyLocked() {
	if t.body != nil {
		_ = t.body.Close()
		t.body = nil
	}
	t.expected = 0
	t.received = 0
}

func parseEndpoint(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("endpoint is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse endpoint %q: missing host", raw)
	}
	return u, nil
}
