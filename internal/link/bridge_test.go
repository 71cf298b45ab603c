package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestegg-fi/nestegg/internal/common"
)

type fakePopup struct {
	closed atomic.Bool
}

func (p *fakePopup) Closed() bool { return p.closed.Load() }

type fakePopupLauncher struct {
	popup *fakePopup
	err   error
}

func (l *fakePopupLauncher) Open(_ string) (Popup, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.popup, nil
}

type fakeView struct {
	dismissed  chan struct{}
	closeCalls atomic.Int64
}

func newFakeView() *fakeView {
	return &fakeView{dismissed: make(chan struct{})}
}

func (v *fakeView) Dismissed() <-chan struct{} { return v.dismissed }

func (v *fakeView) Close() error {
	v.closeCalls.Add(1)
	return nil
}

type fakeViewLauncher struct {
	view *fakeView
	err  error
}

func (l *fakeViewLauncher) Open(_ string) (BrowserView, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.view, nil
}

// queuedViewLauncher hands out a different view per Open call.
type queuedViewLauncher struct {
	mu    sync.Mutex
	views []*fakeView
}

func (l *queuedViewLauncher) Open(_ string) (BrowserView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	view := l.views[0]
	l.views = l.views[1:]
	return view, nil
}

func testConfig() Config {
	return Config{Timeout: time.Second, PollInterval: 5 * time.Millisecond}
}

func TestOpenFlow_PopupCompletesOnClose(t *testing.T) {
	popup := &fakePopup{}
	bridge := NewWithConfig(testConfig(), &fakePopupLauncher{popup: popup}, nil, NewDeepLinkRegistry("nestegg"))

	done := make(chan error, 1)
	go func() {
		done <- bridge.OpenFlow(context.Background(), Options{
			UserID:    "user-1",
			URL:       "https://provider.example/link",
			Transport: TransportPopup,
		})
	}()

	// Give the flow a moment to open, then close the popup.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, bridge.ActiveSessions())
	popup.closed.Store(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flow did not complete after popup close")
	}
	assert.Equal(t, 0, bridge.ActiveSessions(), "session arena must drain")
}

func TestOpenFlow_PopupBlocked(t *testing.T) {
	launcher := &fakePopupLauncher{err: errors.New("popup blocked")}
	bridge := NewWithConfig(testConfig(), launcher, nil, NewDeepLinkRegistry("nestegg"))

	err := bridge.OpenFlow(context.Background(), Options{UserID: "user-1", URL: "https://provider.example/link"})

	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.UserMessage, "popups")
}

func TestOpenFlow_Timeout(t *testing.T) {
	popup := &fakePopup{} // never closes
	cfg := Config{Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}
	bridge := NewWithConfig(cfg, &fakePopupLauncher{popup: popup}, nil, NewDeepLinkRegistry("nestegg"))

	err := bridge.OpenFlow(context.Background(), Options{UserID: "user-1", URL: "https://provider.example/link"})

	assert.ErrorIs(t, err, common.ErrLinkTimeout)
	assert.Equal(t, 0, bridge.ActiveSessions())
}

func TestOpenFlow_DeepLinkBeforeDismissal(t *testing.T) {
	view := newFakeView()
	registry := NewDeepLinkRegistry("nestegg")
	bridge := NewWithConfig(testConfig(), nil, &fakeViewLauncher{view: view}, registry)

	done := make(chan error, 1)
	go func() {
		done <- bridge.OpenFlow(context.Background(), Options{
			UserID:    "user-1",
			URL:       "https://provider.example/link",
			Transport: TransportMobileDeepLink,
		})
	}()

	require.Eventually(t, func() bool {
		return registry.Listeners() == 1
	}, time.Second, 5*time.Millisecond, "flow must register a deep-link listener")

	assert.True(t, registry.Deliver("nestegg://link-complete?user=user-1&status=ok"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("deep link did not complete the flow")
	}

	assert.Equal(t, int64(1), view.closeCalls.Load(), "the view must be closed explicitly when the deep link wins")
	assert.Equal(t, 0, registry.Listeners(), "listeners torn down with the attempt")

	// A later unrelated dismissal must not reach anything.
	close(view.dismissed)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, bridge.ActiveSessions())
}

func TestOpenFlow_DismissalCompletesMobileFlow(t *testing.T) {
	view := newFakeView()
	bridge := NewWithConfig(testConfig(), nil, &fakeViewLauncher{view: view}, NewDeepLinkRegistry("nestegg"))

	done := make(chan error, 1)
	go func() {
		done <- bridge.OpenFlow(context.Background(), Options{
			UserID:    "user-1",
			URL:       "https://provider.example/link",
			Transport: TransportMobileDeepLink,
		})
	}()

	time.Sleep(10 * time.Millisecond)
	close(view.dismissed)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dismissal did not complete the flow")
	}
	assert.Equal(t, int64(0), view.closeCalls.Load(), "dismissed view needs no explicit close")
}

func TestOpenFlow_NewAttemptSupersedesOld(t *testing.T) {
	stuck := &fakePopup{} // first attempt never closes
	second := &fakePopup{}
	launcher := &switchingLauncher{popups: []*fakePopup{stuck, second}}
	bridge := NewWithConfig(testConfig(), launcher, nil, NewDeepLinkRegistry("nestegg"))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- bridge.OpenFlow(context.Background(), Options{UserID: "user-1", URL: "https://provider.example/link"})
	}()

	require.Eventually(t, func() bool {
		return bridge.ActiveSessions() == 1
	}, time.Second, 5*time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- bridge.OpenFlow(context.Background(), Options{UserID: "user-1", URL: "https://provider.example/link"})
	}()

	select {
	case err := <-firstDone:
		assert.ErrorIs(t, err, common.ErrLinkCanceled, "stale attempt is canceled, not completed")
	case <-time.After(time.Second):
		t.Fatal("superseded attempt did not resolve")
	}

	second.closed.Store(true)
	select {
	case err := <-secondDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second attempt did not complete")
	}
}

func TestOpenFlow_UnknownTransport(t *testing.T) {
	bridge := NewWithConfig(testConfig(), &fakePopupLauncher{popup: &fakePopup{}}, nil, NewDeepLinkRegistry("nestegg"))

	err := bridge.OpenFlow(context.Background(), Options{URL: "https://provider.example/link", Transport: "carrier_pigeon"})

	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestDeepLinkRegistry_SchemeFiltering(t *testing.T) {
	registry := NewDeepLinkRegistry("nestegg")

	assert.False(t, registry.Deliver("https://example.com/callback"))
	assert.False(t, registry.Deliver("::not a url::"))
	assert.True(t, registry.Deliver("nestegg://anything"))
}

func TestDeepLink_OnlyReachesItsOwnUser(t *testing.T) {
	viewOne := newFakeView()
	viewTwo := newFakeView()
	registry := NewDeepLinkRegistry("nestegg")
	launcher := &queuedViewLauncher{views: []*fakeView{viewOne, viewTwo}}
	bridge := NewWithConfig(testConfig(), nil, launcher, registry)

	doneOne := make(chan error, 1)
	go func() {
		doneOne <- bridge.OpenFlow(context.Background(), Options{
			UserID:    "user-1",
			URL:       "https://provider.example/link",
			Transport: TransportMobileDeepLink,
		})
	}()
	require.Eventually(t, func() bool {
		return registry.Listeners() == 1
	}, time.Second, 5*time.Millisecond)

	doneTwo := make(chan error, 1)
	go func() {
		doneTwo <- bridge.OpenFlow(context.Background(), Options{
			UserID:    "user-2",
			URL:       "https://provider.example/link",
			Transport: TransportMobileDeepLink,
		})
	}()
	require.Eventually(t, func() bool {
		return registry.Listeners() == 2
	}, time.Second, 5*time.Millisecond)

	assert.True(t, registry.Deliver("nestegg://link-complete?user=user-2&status=ok"))

	select {
	case err := <-doneTwo:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("redirect did not complete its own user's flow")
	}
	assert.Equal(t, int64(1), viewTwo.closeCalls.Load())

	// The other user's attempt must still be waiting, untouched.
	select {
	case err := <-doneOne:
		t.Fatalf("redirect leaked into another user's flow: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int64(0), viewOne.closeCalls.Load())
	assert.Equal(t, 1, registry.Listeners())

	close(viewOne.dismissed)
	select {
	case err := <-doneOne:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first flow did not finish after dismissal")
	}
}

// switchingLauncher hands out a different popup per Open call.
type switchingLauncher struct {
	popups []*fakePopup
	calls  int
}

func (l *switchingLauncher) Open(_ string) (Popup, error) {
	popup := l.popups[l.calls%len(l.popups)]
	l.calls++
	return popup, nil
}
