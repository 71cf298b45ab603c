package prices

import (
	"context"
	"sync"
	"time"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// pollLoop is one symbol's refresh loop, shared by every subscriber to that
// symbol so repeated subscriptions never multiply network traffic.
type pollLoop struct {
	cancel    context.CancelFunc
	callbacks map[int64]func(model.PriceQuote)
}

// Subscribe registers interest in a symbol set. Each symbol gets at most one
// polling loop regardless of subscriber count; the loop re-fetches at the
// configured interval and delivers every refreshed quote to all current
// subscribers. The returned function unsubscribes; the last unsubscriber for
// a symbol stops its loop. It is safe to call the returned function more
// than once.
func (a *Aggregator) Subscribe(symbols []string, callback func(model.PriceQuote)) func() {
	a.mu.Lock()
	a.nextSubID++
	id := a.nextSubID

	subscribed := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		subscribed = append(subscribed, symbol)

		loop, ok := a.loops[symbol]
		if !ok {
			ctx, cancel := context.WithCancel(context.Background())
			loop = &pollLoop{
				cancel:    cancel,
				callbacks: make(map[int64]func(model.PriceQuote)),
			}
			a.loops[symbol] = loop
			go a.poll(ctx, symbol)
		}
		loop.callbacks[id] = callback
	}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.unsubscribe(id, subscribed)
		})
	}
}

// unsubscribe removes one subscriber from each symbol and tears down any
// loop left without subscribers.
func (a *Aggregator) unsubscribe(id int64, symbols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, symbol := range symbols {
		loop, ok := a.loops[symbol]
		if !ok {
			continue
		}
		delete(loop.callbacks, id)
		if len(loop.callbacks) == 0 {
			loop.cancel()
			delete(a.loops, symbol)
		}
	}
}

// poll drives one symbol's refresh loop until its context is canceled.
// Each tick bypasses the cache so subscribers see the freshest data the
// sources will give.
func (a *Aggregator) poll(ctx context.Context, symbol string) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			quote := a.refresh(ctx, symbol)
			for _, callback := range a.snapshotCallbacks(symbol) {
				callback(quote)
			}
		}
	}
}

// snapshotCallbacks copies the symbol's subscriber list so callbacks run
// outside the aggregator lock.
func (a *Aggregator) snapshotCallbacks(symbol string) []func(model.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	loop, ok := a.loops[symbol]
	if !ok {
		return nil
	}

	callbacks := make([]func(model.PriceQuote), 0, len(loop.callbacks))
	for _, callback := range loop.callbacks {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}

// ActiveLoops reports how many polling loops are currently running.
func (a *Aggregator) ActiveLoops() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.loops)
}
