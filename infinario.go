package infinario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/five82/infinario/internal/command"
	"github.com/five82/infinario/internal/fingerprint"
	"github.com/five82/infinario/requests"
	"github.com/five82/infinario/transport"
)

var (
	// ErrMissingToken is returned by New when the project token is empty.
	ErrMissingToken = errors.New("project token is required")
	// ErrEmptyCustomerID is delivered when Identify is called without an id.
	ErrEmptyCustomerID = errors.New("customer id is empty")
)

var okMarker = []byte(`"status": "ok"`)

// Confirmed reports whether the collector accepted the commands in resp.
func Confirmed(resp requests.Response) bool {
	return resp.Status == requests.Success && bytes.Contains(resp.Body, okMarker)
}

// Tracker sends customer and event commands for one project.
type Tracker struct {
	token    string
	endpoint string
	cookie   string
	clock    func() time.Time
	logger   pslog.Logger

	manager     *requests.Manager
	ownsManager bool

	mu         sync.Mutex
	customerID string
	generation uint64
	closed     bool
}

// New returns a Tracker for projectToken.
func New(projectToken string, opts ...Option) (*Tracker, error) {
	token := strings.TrimSpace(projectToken)
	if token == "" {
		return nil, ErrMissingToken
	}

	s := settings{
		endpoint:  DefaultEndpoint,
		logger:    pslog.NoopLogger(),
		clock:     time.Now,
		chunkSize: requests.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&s)
	}

	t := &Tracker{
		token:      token,
		endpoint:   s.endpoint,
		cookie:     s.cookie,
		clock:      s.clock,
		logger:     s.logger.With("sys", "infinario.tracker"),
		customerID: s.customerID,
		manager:    s.manager,
	}
	if t.cookie == "" {
		t.cookie = fingerprint.Cookie(context.Background())
	}

	if t.manager == nil {
		tr := s.transport
		if tr == nil {
			tr = transport.NewHTTP(transport.WithTimeout(s.timeout), transport.WithLogger(s.logger))
		}
		t.manager = requests.NewManager(tr,
			requests.WithLogger(s.logger),
			requests.WithChunkSize(s.chunkSize),
			requests.WithObserver(s.observer),
		)
		t.ownsManager = true
	}

	if s.proxy != "" {
		if err := t.manager.SetProxy(s.proxy); err != nil {
			if t.ownsManager {
				_ = t.manager.Close()
			}
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	t.logger.Debug("tracker.created", "endpoint", t.endpoint, "registered", t.customerID != "")
	return t, nil
}

// CustomerID returns the registered customer id, or "" while anonymous.
func (t *Tracker) CustomerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.customerID
}

// Cookie returns the anonymous cookie.
func (t *Tracker) Cookie() string {
	return t.cookie
}

// Identify registers customerID. Commands issued after Identify returns key
// on customerID straight away. If the collector does not confirm the merge
// the tracker falls back to the cookie, unless another Identify has been
// issued in the meantime. cb runs after that decision.
func (t *Tracker) Identify(customerID string, cb requests.Callback) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		t.reject(cb, ErrEmptyCustomerID)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.kill(cb)
		return
	}
	t.customerID = id
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	body := command.Identify(t.token, id, t.cookie)
	t.manager.Enqueue(requests.Request{
		URI:  t.endpoint,
		Body: body,
		Callback: func(resp requests.Response) {
			if !Confirmed(resp) {
				t.rollback(id, gen, resp)
			}
			if cb != nil {
				cb(resp)
			}
		},
	})
}

func (t *Tracker) rollback(id string, gen uint64, resp requests.Response) {
	t.mu.Lock()
	current := t.generation == gen && t.customerID == id
	if current {
		t.customerID = ""
	}
	t.mu.Unlock()

	t.logger.Warn("identify.unconfirmed",
		"customer_id", id,
		"status", resp.Status.String(),
		"http_status", resp.StatusCode,
		"rolled_back", current,
	)
}

// Update sets customer attributes. attributes may be nil, JSON text as a
// string, []byte or json.RawMessage, or any value go-json can marshal.
func (t *Tracker) Update(attributes any, cb requests.Callback) {
	body, err := command.Customer(t.token, t.activeID(), attributes)
	if err != nil {
		t.reject(cb, err)
		return
	}
	t.send(body, cb)
}

// Track records eventName at the current time.
func (t *Tracker) Track(eventName string, attributes any, cb requests.Callback) {
	t.TrackAt(eventName, attributes, unixSeconds(t.clock()), cb)
}

// TrackAt records eventName at timestamp, given in Unix seconds.
func (t *Tracker) TrackAt(eventName string, attributes any, timestamp float64, cb requests.Callback) {
	body, err := command.Event(t.token, t.activeID(), eventName, attributes, timestamp)
	if err != nil {
		t.reject(cb, err)
		return
	}
	t.send(body, cb)
}

// SetDrainCallback runs fn whenever every queued command has completed.
func (t *Tracker) SetDrainCallback(fn func()) {
	t.manager.SetDrainCallback(fn)
}

// ClearDrainCallback removes the drain callback.
func (t *Tracker) ClearDrainCallback() {
	t.manager.ClearDrainCallback()
}

// SetProxy routes subsequent requests through proxy.
func (t *Tracker) SetProxy(proxy string) error {
	return t.manager.SetProxy(proxy)
}

// ClearProxy disables proxying.
func (t *Tracker) ClearProxy() error {
	return t.manager.ClearProxy()
}

// Close shuts down the tracker's own manager; commands still queued complete
// with requests.KilledError before Close returns. A manager supplied with
// WithManager is left running, but the tracker stops using it: later
// commands complete with requests.KilledError without being queued. Close
// must not be called from a command callback.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if !t.ownsManager {
		return nil
	}
	if err := t.manager.Close(); err != nil {
		return fmt.Errorf("close tracker: %w", err)
	}
	return nil
}

func (t *Tracker) activeID() command.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.customerID != "" {
		return command.RegisteredID(t.customerID)
	}
	return command.CookieID(t.cookie)
}

func (t *Tracker) send(body []byte, cb requests.Callback) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		t.kill(cb)
		return
	}
	t.manager.Enqueue(requests.Request{URI: t.endpoint, Body: body, Callback: cb})
}

func (t *Tracker) kill(cb requests.Callback) {
	if cb != nil {
		cb(requests.Response{Status: requests.KilledError, Err: requests.ErrClosed})
	}
}

// reject answers cb without touching the network.
func (t *Tracker) reject(cb requests.Callback, err error) {
	t.logger.Warn("command.rejected", "error", err)
	if cb == nil {
		return
	}
	cb(requests.Response{Status: requests.SendRequestError, Err: err})
}

func unixSeconds(ts time.Time) float64 {
	return float64(ts.UnixMilli()) / 1000
}
