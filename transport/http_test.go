package transport

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

func waitHeader(t *testing.T, ch <-chan Header) Header {
	t.Helper()
	select {
	case h := <-ch:
		return h
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for header")
		return Header{}
	}
}

func waitChunk(t *testing.T, ch <-chan Chunk) Chunk {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for chunk")
		return Chunk{}
	}
}

func readAll(t *testing.T, tr *HTTP, size int) ([]byte, int) {
	t.Helper()
	var body bytes.Buffer
	chunks := make(chan Chunk, 1)
	reads := 0
	for {
		if err := tr.Read(size, func(c Chunk) { chunks <- c }); err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
		reads++
		c := waitChunk(t, chunks)
		if c.Err != nil {
			t.Fatalf("chunk error: %v", c.Err)
		}
		body.Write(c.Data)
		if c.Finished {
			return body.Bytes(), reads
		}
		if reads > 100 {
			t.Fatalf("body never finished")
		}
	}
}

func TestHTTP_PostSendsHeadersAndBody(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotContentType, gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	t.Cleanup(server.Close)

	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	headers := make(chan Header, 1)
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	if err := tr.Post(server.URL, hdr, []byte(`{"commands":[]}`), func(h Header) { headers <- h }); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	h := waitHeader(t, headers)
	if h.Err != nil {
		t.Fatalf("header error: %v", h.Err)
	}
	if h.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", h.StatusCode)
	}
	if h.ContentLength != int64(len(`{"status": "ok"}`)) {
		t.Fatalf("ContentLength = %d, want %d", h.ContentLength, len(`{"status": "ok"}`))
	}

	body, _ := readAll(t, tr, int(h.ContentLength))
	if string(body) != `{"status": "ok"}` {
		t.Fatalf("body = %q", body)
	}
	if gotBody != `{"commands":[]}` {
		t.Fatalf("server got body %q", gotBody)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", gotContentType)
	}
	if !strings.HasPrefix(gotUserAgent, "infinario-go/") {
		t.Fatalf("User-Agent = %q, want infinario-go/*", gotUserAgent)
	}
}

func TestHTTP_ChunkedBodyReportsUnknownLength(t *testing.T) {
	t.Parallel()

	parts := []string{strings.Repeat("a", 300), strings.Repeat("b", 300), strings.Repeat("c", 424)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for _, part := range parts {
			_, _ = w.Write([]byte(part))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(server.Close)

	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	headers := make(chan Header, 1)
	if err := tr.Post(server.URL, nil, nil, func(h Header) { headers <- h }); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	h := waitHeader(t, headers)
	if h.Err != nil {
		t.Fatalf("header error: %v", h.Err)
	}
	if h.ContentLength != 0 {
		t.Fatalf("ContentLength = %d, want 0 for chunked response", h.ContentLength)
	}

	body, reads := readAll(t, tr, 256)
	if string(body) != strings.Join(parts, "") {
		t.Fatalf("body length = %d, want %d", len(body), 1024)
	}
	if reads < 2 {
		t.Fatalf("reads = %d, want several reads for a 1024 byte body", reads)
	}
}

func TestHTTP_UnreachableServerReportsHeaderError(t *testing.T) {
	t.Parallel()

	tr := NewHTTP(WithTimeout(2 * time.Second))
	t.Cleanup(func() { _ = tr.Close() })

	headers := make(chan Header, 1)
	if err := tr.Post("127.0.0.1:1", nil, []byte("{}"), func(h Header) { headers <- h }); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	h := waitHeader(t, headers)
	if h.Err == nil {
		t.Fatalf("header error = nil, want connection error")
	}
	if !strings.Contains(h.Err.Error(), "execute request") {
		t.Fatalf("header error = %v, want execute request error", h.Err)
	}
}

func TestHTTP_PostRejectsBadInput(t *testing.T) {
	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.Post("   ", nil, nil, func(Header) {}); err == nil {
		t.Fatalf("Post with empty uri returned nil error")
	}
	if err := tr.Post("http://example.com", nil, nil, nil); err == nil {
		t.Fatalf("Post with nil callback returned nil error")
	}
	if err := tr.Read(10, func(Chunk) {}); err == nil {
		t.Fatalf("Read without a response returned nil error")
	}
	if err := tr.Read(0, func(Chunk) {}); err == nil {
		t.Fatalf("Read with zero length returned nil error")
	}
}

func TestHTTP_BusyWhilePostOutstanding(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.Post(server.URL, nil, nil, func(Header) {}); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	err := tr.Post(server.URL, nil, nil, func(Header) {})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second Post error = %v, want ErrBusy", err)
	}
}

func TestHTTP_CloseSuppressesCallbacks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	tr := NewHTTP()
	called := make(chan struct{}, 1)
	if err := tr.Post(server.URL, nil, nil, func(Header) { called <- struct{}{} }); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	select {
	case <-called:
		t.Fatalf("header callback fired after Close")
	case <-time.After(200 * time.Millisecond):
	}

	if err := tr.Post(server.URL, nil, nil, func(Header) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Post after Close error = %v, want ErrClosed", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestHTTP_SetProxyValidates(t *testing.T) {
	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.SetProxy(""); err == nil {
		t.Fatalf("SetProxy(\"\") returned nil error")
	}
	if err := tr.SetProxy("proxy.local:3128"); err != nil {
		t.Fatalf("SetProxy returned error: %v", err)
	}
	if err := tr.ClearProxy(); err != nil {
		t.Fatalf("ClearProxy returned error: %v", err)
	}
}

func TestHTTP_SetProxyRoutesRequests(t *testing.T) {
	t.Parallel()

	hosts := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.URL.Host
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	t.Cleanup(proxy.Close)

	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })
	if err := tr.SetProxy(proxy.URL); err != nil {
		t.Fatalf("SetProxy returned error: %v", err)
	}

	headers := make(chan Header, 1)
	if err := tr.Post("http://collector.invalid/bulk", nil, nil, func(h Header) { headers <- h }); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	h := waitHeader(t, headers)
	if h.Err != nil || h.StatusCode != http.StatusOK {
		t.Fatalf("header = %+v, want 200 through proxy", h)
	}
	if got := <-hosts; got != "collector.invalid" {
		t.Fatalf("proxy saw host %q, want collector.invalid", got)
	}
}

func TestHTTP_ProxyChangesDuringPost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	tr := NewHTTP()
	t.Cleanup(func() { _ = tr.Close() })

	headers := make(chan Header, 1)
	for i := 0; i < 20; i++ {
		if err := tr.Post(server.URL, nil, nil, func(h Header) { headers <- h }); err != nil {
			t.Fatalf("Post %d returned error: %v", i, err)
		}
		// The server also answers proxied requests, so either route succeeds.
		var err error
		if i%2 == 0 {
			err = tr.SetProxy(server.URL)
		} else {
			err = tr.ClearProxy()
		}
		if err != nil {
			t.Fatalf("proxy change %d returned error: %v", i, err)
		}
		if h := waitHeader(t, headers); h.Err != nil {
			t.Fatalf("Post %d header error: %v", i, h.Err)
		}
	}
}

func TestParseEndpoint_DefaultsScheme(t *testing.T) {
	u, err := parseEndpoint("  api.example.com/bulk  ")
	if err != nil {
		t.Fatalf("parseEndpoint returned error: %v", err)
	}
	if u.Scheme != "http" || u.Host != "api.example.com" || u.Path != "/bulk" {
		t.Fatalf("parseEndpoint = %q", u.String())
	}
	if _, err := parseEndpoint("http://"); err == nil {
		t.Fatalf("parseEndpoint without host returned nil error")
	}
}
