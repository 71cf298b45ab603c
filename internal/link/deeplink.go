package link

import (
	"net/url"
	"sync"
)

// deepLinkListener is one attempt waiting on a redirect, keyed by the user
// who opened it.
type deepLinkListener struct {
	userID string
	ch     chan string
}

// DeepLinkRegistry routes inbound custom-scheme URLs to the link attempts
// waiting on them. Listeners are registered per attempt and removed when the
// attempt resolves, never left behind as module-level globals.
type DeepLinkRegistry struct {
	listeners map[int64]deepLinkListener
	scheme    string
	mu        sync.Mutex
}

// NewDeepLinkRegistry creates a registry for the app's custom scheme, e.g.
// "nestegg" for nestegg://link-complete redirects.
func NewDeepLinkRegistry(scheme string) *DeepLinkRegistry {
	return &DeepLinkRegistry{
		scheme:    scheme,
		listeners: make(map[int64]deepLinkListener),
	}
}

// Deliver routes an inbound URL to the attempts waiting for its user. The
// redirect must carry the user in its "user" query parameter; attempts opened
// by other users never see it. Deliver reports whether the URL matched the
// registry's scheme; unmatched URLs are ignored so the OS-level handler can
// pass everything through unfiltered.
func (r *DeepLinkRegistry) Deliver(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != r.scheme {
		return false
	}
	user := parsed.Query().Get("user")

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, listener := range r.listeners {
		if listener.userID != user {
			continue
		}
		select {
		case listener.ch <- rawURL:
		default:
			// Listener already has a pending delivery; one is enough.
		}
	}
	return true
}

// listen registers a listener for one attempt, scoped to the user who opened
// it. The returned function removes it; calling it multiple times is safe.
func (r *DeepLinkRegistry) listen(id int64, userID string) (<-chan string, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan string, 1)
	r.listeners[id] = deepLinkListener{userID: userID, ch: ch}

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Listeners reports how many attempts are currently waiting on a deep link.
func (r *DeepLinkRegistry) Listeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.listeners)
}
