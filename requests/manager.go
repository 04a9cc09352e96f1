package requests

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/five82/infinario/transport"
)

// DefaultChunkSize is the read size used while the body length is unknown,
// and the step by which the guess grows.
const DefaultChunkSize = 1024

// Manager runs queued requests strictly one at a time, in enqueue order,
// over a single transport.
//
// Lock order: stepMu, then mu, then qmu. stepMu serialises the logical steps
// driven by transport notifications and is held while request callbacks run.
// mu guards the lifecycle state and the drain callback. qmu guards the queue
// and the accumulation state and is never held across transport calls or
// callbacks.
type Manager struct {
	transport transport.Transport
	logger    pslog.Logger
	observer  Observer
	chunkSize int
	header    http.Header

	stepMu sync.Mutex

	mu    sync.Mutex
	state State
	drain func()

	qmu        sync.Mutex
	queue      []*entry
	seq        uint64
	active     uint64
	expected   int
	body       bytes.Buffer
	statusCode int
}

type entry struct {
	req      Request
	id       string
	enqueued time.Time
}

// Option customises NewManager.
type Option func(*Manager)

// WithLogger supplies a logger for manager diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) Option {
	return func(m *Manager) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		m.logger = logger
	}
}

// WithChunkSize sets the read size used when the body length is unknown.
func WithChunkSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithObserver registers an observer for delivered responses.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(key) != "" {
			m.header.Set(key, value)
		}
	}
}

// NewManager builds a Manager owning t. A nil t uses transport.NewHTTP().
func NewManager(t transport.Transport, opts ...Option) *Manager {
	if t == nil {
		t = transport.NewHTTP()
	}
	m := &Manager{
		transport: t,
		logger:    pslog.NoopLogger(),
		chunkSize: DefaultChunkSize,
		header:    http.Header{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.header.Set("Content-Type", "application/json")
	m.logger = m.logger.With("sys", "requests.manager")
	return m
}

// Enqueue appends req to the queue and starts processing if the manager was
// idle. It never blocks on I/O. After Close the request is answered
// immediately with KilledError.
func (m *Manager) Enqueue(req Request) {
	e := &entry{req: req, id: xid.New().String(), enqueued: time.Now()}

	m.mu.Lock()
	if m.state == ShuttingDown {
		m.mu.Unlock()
		m.logger.Debug("request.rejected", "request_id", e.id, "uri", req.URI)
		m.deliver(e, Response{Status: KilledError, Err: ErrClosed}, 0)
		return
	}
	m.qmu.Lock()
	m.queue = append(m.queue, e)
	pending := len(m.queue)
	m.qmu.Unlock()
	kick := m.state == Idle
	if kick {
		m.state = Processing
	}
	m.mu.Unlock()

	m.logger.Trace("request.enqueued", "request_id", e.id, "uri", req.URI, "bytes", len(req.Body), "pending", pending)
	if kick {
		m.stepMu.Lock()
		drain := m.executeHead()
		m.stepMu.Unlock()
		if drain != nil {
			drain()
		}
	}
}

// SetDrainCallback registers fn to run each time the queue runs dry after a
// completion. It is safe to call from inside a callback.
func (m *Manager) SetDrainCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain = fn
}

// ClearDrainCallback removes the drain callback.
func (m *Manager) ClearDrainCallback() {
	m.SetDrainCallback(nil)
}

// SetProxy routes requests through proxy when the transport supports it.
func (m *Manager) SetProxy(proxy string) error {
	ps, ok := m.transport.(transport.ProxySetter)
	if !ok {
		return fmt.Errorf("set proxy: transport %T does not support proxies", m.transport)
	}
	return ps.SetProxy(proxy)
}

// ClearProxy disables proxying when the transport supports it.
func (m *Manager) ClearProxy() error {
	ps, ok := m.transport.(transport.ProxySetter)
	if !ok {
		return fmt.Errorf("clear proxy: transport %T does not support proxies", m.transport)
	}
	return ps.ClearProxy()
}

// Pending returns the number of queued requests, the in-flight one included.
func (m *Manager) Pending() int {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return len(m.queue)
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears the manager down. The transport is closed first, then every
// request still queued, the in-flight one included, is answered with
// KilledError in enqueue order before Close returns. The drain callback does
// not fire. Close is idempotent.
//
// Close waits for a running completion callback to return, so it must not be
// called from inside one; a drain callback may call it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == ShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.state = ShuttingDown
	m.mu.Unlock()

	err := m.transport.Close()

	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	m.qmu.Lock()
	remaining := m.queue
	m.queue = nil
	inflight := m.active != 0
	partial := bytes.Clone(m.body.Bytes())
	code := m.statusCode
	m.active = 0
	m.body.Reset()
	m.qmu.Unlock()

	if len(remaining) > 0 {
		m.logger.Debug("manager.killing", "pending", len(remaining))
	}
	for i, e := range remaining {
		resp := Response{Status: KilledError, Err: ErrClosed}
		if i == 0 && inflight {
			resp.Body = partial
			resp.StatusCode = code
		}
		m.deliver(e, resp, len(remaining)-i-1)
	}

	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// executeHead starts the request at the head of the queue. It runs with
// stepMu held and returns the drain callback to invoke once stepMu has been
// released, if the queue ran dry.
func (m *Manager) executeHead() func() {
	for {
		m.mu.Lock()
		if m.state == ShuttingDown {
			m.mu.Unlock()
			return nil
		}
		m.qmu.Lock()
		if len(m.queue) == 0 {
			m.active = 0
			m.qmu.Unlock()
			m.state = Idle
			drain := m.drain
			m.mu.Unlock()
			m.logger.Trace("manager.idle")
			return drain
		}
		head := m.queue[0]
		m.seq++
		seq := m.seq
		m.active = seq
		m.expected = 0
		m.statusCode = 0
		m.body.Reset()
		m.qmu.Unlock()
		m.mu.Unlock()

		err := m.transport.Post(head.req.URI, m.header, head.req.Body, func(h transport.Header) {
			m.onHeader(seq, h)
		})
		if err == nil {
			m.logger.Trace("request.sent", "request_id", head.id)
			return nil
		}
		if m.shuttingDown() {
			return nil
		}
		m.finishHead(SendRequestError, fmt.Errorf("post: %w", err))
	}
}

func (m *Manager) onHeader(seq uint64, h transport.Header) {
	m.stepMu.Lock()
	drain := m.handleHeader(seq, h)
	m.stepMu.Unlock()
	if drain != nil {
		drain()
	}
}

func (m *Manager) handleHeader(seq uint64, h transport.Header) func() {
	if !m.isActive(seq) {
		return nil
	}
	if h.Err != nil {
		m.finishHead(ReceiveHeaderError, h.Err)
		return m.executeHead()
	}

	m.qmu.Lock()
	m.statusCode = h.StatusCode
	m.expected = m.chunkSize
	if h.ContentLength > 0 {
		m.expected = int(h.ContentLength)
	}
	n := m.expected
	m.qmu.Unlock()

	return m.read(seq, n)
}

func (m *Manager) onChunk(seq uint64, c transport.Chunk) {
	m.stepMu.Lock()
	drain := m.handleChunk(seq, c)
	m.stepMu.Unlock()
	if drain != nil {
		drain()
	}
}

func (m *Manager) handleChunk(seq uint64, c transport.Chunk) func() {
	if !m.isActive(seq) {
		return nil
	}
	if c.Err != nil {
		m.finishHead(ReceiveBodyError, c.Err)
		return m.executeHead()
	}

	m.qmu.Lock()
	m.body.Write(c.Data)
	if c.Finished {
		m.qmu.Unlock()
		m.finishHead(Success, nil)
		return m.executeHead()
	}
	delta := m.chunkSize
	if hint := int(c.ContentLength); hint > m.expected {
		delta = hint - m.expected
		m.expected = hint
	} else {
		m.expected += m.chunkSize
	}
	m.qmu.Unlock()

	return m.read(seq, delta)
}

func (m *Manager) read(seq uint64, n int) func() {
	err := m.transport.Read(n, func(c transport.Chunk) {
		m.onChunk(seq, c)
	})
	if err == nil {
		return nil
	}
	if m.shuttingDown() {
		return nil
	}
	m.finishHead(ReceiveBodyError, fmt.Errorf("read: %w", err))
	return m.executeHead()
}

// isActive reports whether a notification for seq still belongs to the
// request at the head of a live queue.
func (m *Manager) isActive(seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ShuttingDown {
		return false
	}
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return seq != 0 && m.active == seq && len(m.queue) > 0
}

func (m *Manager) shuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == ShuttingDown
}

// finishHead pops the head and delivers its response. Runs with stepMu held.
func (m *Manager) finishHead(status Status, err error) {
	m.qmu.Lock()
	head := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	resp := Response{
		Transport:  m.transport,
		Status:     status,
		StatusCode: m.statusCode,
		Body:       bytes.Clone(m.body.Bytes()),
		Err:        err,
	}
	m.active = 0
	pending := len(m.queue)
	m.qmu.Unlock()

	m.deliver(head, resp, pending)
}

func (m *Manager) deliver(e *entry, resp Response, pending int) {
	resp.RequestBody = e.req.Body
	resp.UserData = e.req.UserData
	elapsed := time.Since(e.enqueued)

	if resp.Status == Success {
		m.logger.Debug("request.completed",
			"request_id", e.id,
			"status", resp.Status.String(),
			"http_status", resp.StatusCode,
			"bytes", humanize.Bytes(uint64(len(resp.Body))),
			"elapsed", elapsed,
			"pending", pending,
		)
	} else {
		m.logger.Warn("request.failed",
			"request_id", e.id,
			"status", resp.Status.String(),
			"error", resp.Err,
			"elapsed", elapsed,
			"pending", pending,
		)
	}

	if m.observer != nil {
		m.observer.Observe(Outcome{
			Status:    resp.Status,
			Err:       resp.Err,
			Elapsed:   elapsed,
			BodyBytes: len(resp.Body),
			Pending:   pending,
		})
	}
	if e.req.Callback != nil {
		e.req.Callback(resp)
	}
}
