package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"pkt.systems/pslog"

	"github.com/five82/infinario"
	"github.com/five82/infinario/internal/config"
	"github.com/five82/infinario/internal/fingerprint"
	"github.com/five82/infinario/internal/identity"
	"github.com/five82/infinario/internal/state"
	"github.com/five82/infinario/requests"
	"github.com/five82/infinario/transport"
)

// Options configure a Session.
type Options struct {
	Config config.Config
	Logger pslog.Logger
	// Out receives one line per completed command. Nil discards them.
	Out io.Writer
	// Transport overrides the HTTP transport.
	Transport transport.Transport
	// Registerer, when set, receives the delivery metrics.
	Registerer  prometheus.Registerer
	ReportEvery time.Duration
}

// Session is one CLI run: a tracker bound to the stored identity.
type Session struct {
	tracker      *infinario.Tracker
	store        *state.Store
	logger       pslog.Logger
	out          io.Writer
	identityPath string
	cookie       string
	reportEvery  time.Duration
	confirmed    lipgloss.Style
	rejected     lipgloss.Style

	mu          sync.Mutex
	outstanding int
	unconfirmed int
	// customerID is persisted on Close: the stored id until an Identify is
	// confirmed.
	customerID  string
	idle        chan struct{}
	closed      bool
}

// Open builds a Session from opts. The stored cookie is reused when present;
// otherwise one is derived from the host and persisted.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	logger = logger.With("sys", "app.session")

	stored, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	cookie := stored.Cookie
	if cookie == "" {
		cookie = fingerprint.Cookie(ctx)
		logger.Info("identity.cookie_derived", "path", cfg.IdentityPath)
	}
	customerID := cfg.CustomerID
	if customerID == "" {
		customerID = stored.CustomerID
	}

	store := state.NewStore()
	if opts.Registerer != nil {
		if err := store.Register(opts.Registerer); err != nil {
			return nil, err
		}
	}

	trackerOpts := []infinario.Option{
		infinario.WithEndpoint(cfg.Endpoint),
		infinario.WithCookie(cookie),
		infinario.WithCustomerID(customerID),
		infinario.WithLogger(opts.Logger),
		infinario.WithObserver(store),
		infinario.WithChunkSize(cfg.ChunkSize),
		infinario.WithTimeout(cfg.Timeout),
		infinario.WithProxy(cfg.Proxy),
	}
	if opts.Transport != nil {
		trackerOpts = append(trackerOpts, infinario.WithTransport(opts.Transport))
	}
	tracker, err := infinario.New(cfg.ProjectToken, trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}

	s := &Session{
		tracker:      tracker,
		store:        store,
		logger:       logger,
		out:          opts.Out,
		identityPath: cfg.IdentityPath,
		cookie:       cookie,
		customerID:   stored.CustomerID,
		reportEvery:  opts.ReportEvery,
		idle:         make(chan struct{}, 1),
	}
	if s.out == nil {
		s.out = io.Discard
	}
	// Colours are dropped when out is not a terminal.
	renderer := lipgloss.NewRenderer(s.out)
	s.confirmed = renderer.NewStyle().Foreground(lipgloss.Color("#50fa7b"))
	s.rejected = renderer.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	tracker.SetDrainCallback(s.signalIdle)

	if stored.Cookie == "" {
		if err := identity.Save(cfg.IdentityPath, identity.Identity{Cookie: cookie, CustomerID: stored.CustomerID}); err != nil {
			logger.Warn("identity.save_failed", "error", err)
		}
	}
	return s, nil
}

// Tracker returns the session's tracker.
func (s *Session) Tracker() *infinario.Tracker {
	return s.tracker
}

// Stats returns the delivery statistics so far.
func (s *Session) Stats() state.Snapshot {
	return s.store.Snapshot()
}

// Identify registers customerID.
func (s *Session) Identify(customerID string) {
	id := strings.TrimSpace(customerID)
	report := s.track("identify " + customerID)
	s.tracker.Identify(customerID, func(resp requests.Response) {
		if infinario.Confirmed(resp) {
			s.mu.Lock()
			s.customerID = id
			s.mu.Unlock()
		}
		report(resp)
	})
}

// Update sends customer attributes.
func (s *Session) Update(attributes any) {
	s.tracker.Update(attributes, s.track("update"))
}

// Track sends an event. A nil timestamp uses the current time.
func (s *Session) Track(eventName string, attributes any, timestamp *float64) {
	cb := s.track("track " + eventName)
	if timestamp != nil {
		s.tracker.TrackAt(eventName, attributes, *timestamp, cb)
		return
	}
	s.tracker.Track(eventName, attributes, cb)
}

// track counts a command as outstanding and returns the callback that
// reports it.
func (s *Session) track(label string) requests.Callback {
	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()

	return func(resp requests.Response) {
		s.printResult(label, resp)

		s.mu.Lock()
		if !infinario.Confirmed(resp) {
			s.unconfirmed++
		}
		s.outstanding--
		done := s.outstanding == 0
		s.mu.Unlock()
		if done {
			s.signalIdle()
		}
	}
}

func (s *Session) printResult(label string, resp requests.Response) {
	verdict := s.confirmed.Render("confirmed")
	if !infinario.Confirmed(resp) {
		verdict = s.rejected.Render("rejected")
	}
	line := fmt.Sprintf("%s: %s %s", label, resp.Status, verdict)
	if resp.StatusCode != 0 {
		line += fmt.Sprintf(" (HTTP %d, %s)", resp.StatusCode, humanize.Bytes(uint64(len(resp.Body))))
	}
	if resp.Err != nil {
		line += ": " + resp.Err.Error()
	}
	fmt.Fprintln(s.out, line)
}

func (s *Session) signalIdle() {
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

// Unconfirmed returns how many completed commands the collector did not
// confirm, failures and killed commands included.
func (s *Session) Unconfirmed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unconfirmed
}

func (s *Session) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Wait blocks until every command issued through the session has completed
// or ctx is done. Progress is logged while it waits.
func (s *Session) Wait(ctx context.Context) error {
	reportCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	StartReporter(reportCtx, s.store, s.reportEvery, s.report)

	for {
		if s.pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for delivery: %w", ctx.Err())
		case <-s.idle:
		}
	}
}

func (s *Session) report(snap state.Snapshot) {
	fields := []any{
		"outstanding", s.pending(),
		"completed", snap.Completed,
		"failed", snap.Failed,
		"received", humanize.Bytes(uint64(snap.BytesReceived)),
	}
	if snap.IsOffline() {
		s.logger.Warn("delivery.offline", append(fields, "error", snap.LastError)...)
		return
	}
	s.logger.Info("delivery.progress", fields...)
}

// Close shuts the tracker down, killing anything still queued, and persists
// the identity the collector confirmed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.tracker.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	s.mu.Lock()
	id := identity.Identity{Cookie: s.cookie, CustomerID: s.customerID}
	s.mu.Unlock()
	if err := identity.Save(s.identityPath, id); err != nil {
		result = multierror.Append(result, fmt.Errorf("save identity: %w", err))
	}
	return result.ErrorOrNil()
}
