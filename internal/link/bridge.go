// Package link bridges the external account-linking web flow across a
// desktop popup or a mobile in-app-browser round trip.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nestegg-fi/nestegg/internal/common"
)

// Transport selects how the provider's linking page is presented.
type Transport string

// Supported transports.
const (
	TransportPopup          Transport = "popup"
	TransportMobileDeepLink Transport = "mobile_deeplink"
)

// State is a link session's position in its lifecycle.
type State int

// Session states. A session only ever moves forward.
const (
	StateIdle State = iota
	StateOpened
	StateCompleted
	StateCanceled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "timed_out"
	}
}

// Popup is a handle to an opened browser popup.
type Popup interface {
	// Closed reports whether the user has closed the window.
	Closed() bool
}

// PopupLauncher opens the provider URL in a sized popup window.
type PopupLauncher interface {
	Open(url string) (Popup, error)
}

// BrowserView is a handle to a mobile in-app browser view. Unlike a desktop
// popup it does not close itself after an external redirect.
type BrowserView interface {
	// Dismissed fires when the user closes the view.
	Dismissed() <-chan struct{}
	// Close programmatically dismisses the view.
	Close() error
}

// ViewLauncher opens the provider URL in a system browser view.
type ViewLauncher interface {
	Open(url string) (BrowserView, error)
}

// Options configures one link attempt.
type Options struct {
	UserID    string
	URL       string
	Transport Transport
	Timeout   time.Duration
}

// Session is one link attempt's state, held in the bridge's arena until the
// attempt resolves.
type session struct {
	startedAt time.Time
	cancel    context.CancelFunc
	userID    string
	state     State
	id        int64
}

// Config holds configuration options for the bridge.
type Config struct {
	// Timeout bounds every flow; a user who opens the page and walks away
	// cannot pin resources forever.
	Timeout time.Duration
	// PollInterval is how often the popup handle is checked for closure.
	PollInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Minute,
		PollInterval: 500 * time.Millisecond,
	}
}

// Bridge orchestrates link attempts. Sessions live in an explicit arena
// keyed by attempt id, so concurrent or abandoned attempts cannot leak
// listeners into each other.
type Bridge struct {
	logger       *slog.Logger
	popups       PopupLauncher
	views        ViewLauncher
	deepLinks    *DeepLinkRegistry
	sessions     map[int64]*session
	timeout      time.Duration
	pollInterval time.Duration
	nextID       int64
	mu           sync.Mutex
}

// New creates a bridge with default settings.
func New(popups PopupLauncher, views ViewLauncher, deepLinks *DeepLinkRegistry) *Bridge {
	return NewWithConfig(DefaultConfig(), popups, views, deepLinks)
}

// NewWithConfig creates a bridge with custom configuration.
func NewWithConfig(cfg Config, popups PopupLauncher, views ViewLauncher, deepLinks *DeepLinkRegistry) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	return &Bridge{
		popups:       popups,
		views:        views,
		deepLinks:    deepLinks,
		sessions:     make(map[int64]*session),
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		logger:       slog.Default().With("component", "link"),
	}
}

// OpenFlow runs one link attempt to completion. It blocks until the flow
// ends and returns nil on completion, common.ErrLinkTimeout on the hard
// ceiling, and common.ErrLinkCanceled when superseded by a newer attempt for
// the same user.
//
// "Completed" only means the flow ended: a user closing the popup is
// indistinguishable here from a successful external completion. Callers must
// re-fetch accounts and detect success from data presence.
func (b *Bridge) OpenFlow(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("%w: link URL is required", common.ErrInvalidConfig)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}

	// A reopened flow must not inherit listeners from an abandoned one.
	b.cancelExisting(opts.UserID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess := b.register(opts.UserID, cancel)
	defer b.release(sess)

	b.logger.Info("Opening link flow",
		"user_id", opts.UserID,
		"transport", opts.Transport,
		"timeout", timeout)

	var err error
	switch opts.Transport {
	case TransportMobileDeepLink:
		err = b.runMobile(ctx, sess, opts)
	case TransportPopup, "":
		err = b.runPopup(ctx, sess, opts)
	default:
		return fmt.Errorf("%w: unknown link transport %q", common.ErrInvalidConfig, opts.Transport)
	}

	b.logger.Info("Link flow ended",
		"user_id", opts.UserID,
		"state", b.stateOf(sess),
		"error", err)
	return err
}

// runPopup opens a popup and polls the handle for closure. Popup close is
// treated as "flow ended" whether or not linking succeeded.
func (b *Bridge) runPopup(ctx context.Context, sess *session, opts Options) error {
	popup, err := b.popups.Open(opts.URL)
	if err != nil {
		b.transition(sess, StateCanceled)
		return common.NewUserError("Your browser blocked the connection window. Please allow popups and retry.", err)
	}
	b.transition(sess, StateOpened)

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return b.resolveContextErr(ctx, sess)
		case <-ticker.C:
			if popup.Closed() {
				b.transition(sess, StateCompleted)
				return nil
			}
		}
	}
}

// runMobile opens an in-app browser view and waits for whichever comes
// first: the user dismissing the view, or the provider's redirect arriving
// as a deep link. Both listeners are torn down together when the attempt
// resolves, so a later unrelated dismissal can never fire a stale callback.
func (b *Bridge) runMobile(ctx context.Context, sess *session, opts Options) error {
	deepLinkCh, unregister := b.deepLinks.listen(sess.id, sess.userID)
	defer unregister()

	view, err := b.views.Open(opts.URL)
	if err != nil {
		b.transition(sess, StateCanceled)
		return common.NewUserError("Could not open the in-app browser. Please retry.", err)
	}
	b.transition(sess, StateOpened)

	select {
	case <-view.Dismissed():
		b.transition(sess, StateCompleted)
		return nil
	case redirect := <-deepLinkCh:
		// The view does not auto-close after an external redirect on
		// non-web platforms.
		if closeErr := view.Close(); closeErr != nil {
			b.logger.Warn("Failed to close browser view after deep link", "error", closeErr)
		}
		b.logger.Debug("Deep link completed flow", "url", redirect)
		b.transition(sess, StateCompleted)
		return nil
	case <-ctx.Done():
		return b.resolveContextErr(ctx, sess)
	}
}

// resolveContextErr distinguishes the hard timeout from cancellation by a
// superseding attempt so callers can tell "user gave up" from "user retried".
func (b *Bridge) resolveContextErr(ctx context.Context, sess *session) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.transition(sess, StateTimedOut)
		return common.NewUserError("Connecting your account took too long. Please try again.", common.ErrLinkTimeout)
	}
	b.transition(sess, StateCanceled)
	return common.ErrLinkCanceled
}

func (b *Bridge) register(userID string, cancel context.CancelFunc) *session {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sess := &session{
		id:        b.nextID,
		userID:    userID,
		state:     StateIdle,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	b.sessions[sess.id] = sess
	return sess
}

func (b *Bridge) release(sess *session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sessions, sess.id)
}

// cancelExisting tears down any still-running attempt for the user.
func (b *Bridge) cancelExisting(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sess := range b.sessions {
		if sess.userID == userID {
			sess.cancel()
		}
	}
}

func (b *Bridge) transition(sess *session, state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Terminal states never regress.
	if sess.state == StateCompleted || sess.state == StateCanceled || sess.state == StateTimedOut {
		return
	}
	sess.state = state
}

func (b *Bridge) stateOf(sess *session) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return sess.state
}

// ActiveSessions reports how many attempts are currently in flight.
func (b *Bridge) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sessions)
}
