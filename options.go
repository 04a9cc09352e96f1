package infinario

import (
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/five82/infinario/requests"
	"github.com/five82/infinario/transport"
)

// DefaultEndpoint is the collector bulk endpoint.
const DefaultEndpoint = "http://api.infinario.com/bulk"

type settings struct {
	customerID string
	cookie     string
	endpoint   string
	transport  transport.Transport
	manager    *requests.Manager
	logger     pslog.Logger
	observer   requests.Observer
	chunkSize  int
	clock      func() time.Time
	timeout    time.Duration
	proxy      string
}

// Option configures a Tracker.
type Option func(*settings)

// WithCustomerID starts the tracker with a registered customer id.
func WithCustomerID(id string) Option {
	return func(s *settings) {
		s.customerID = strings.TrimSpace(id)
	}
}

// WithCookie supplies the anonymous cookie instead of deriving one from the
// host.
func WithCookie(cookie string) Option {
	return func(s *settings) {
		s.cookie = strings.TrimSpace(cookie)
	}
}

// WithEndpoint overrides the collector URL.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) {
		if v := strings.TrimSpace(endpoint); v != "" {
			s.endpoint = v
		}
	}
}

// WithTransport sets the transport for the tracker's own manager. It is
// ignored when WithManager is given.
func WithTransport(t transport.Transport) Option {
	return func(s *settings) {
		s.transport = t
	}
}

// WithManager shares an existing manager. The caller keeps ownership and
// must close it; Tracker.Close leaves it running.
func WithManager(m *requests.Manager) Option {
	return func(s *settings) {
		s.manager = m
	}
}

// WithLogger supplies a logger. Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) Option {
	return func(s *settings) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		s.logger = logger
	}
}

// WithObserver registers an observer on the tracker's own manager.
func WithObserver(o requests.Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

// WithChunkSize sets the read size used for bodies of unknown length.
func WithChunkSize(n int) Option {
	return func(s *settings) {
		s.chunkSize = n
	}
}

// WithClock replaces the clock used by Track.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTimeout bounds each HTTP exchange of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithProxy routes requests through proxy.
func WithProxy(proxy string) Option {
	return func(s *settings) {
		s.proxy = strings.TrimSpace(proxy)
	}
}
