package outbox

import (
	"context"
	"sync"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

// Outbox fans committed vesting events out to subscribers (SSE clients,
// indexers, notifiers). Events are published after the ledger mutation has
// committed, so subscribers only ever observe durable state.
type Outbox struct {
	mu   sync.RWMutex
	subs map[int]chan vesting.Event
	next int
}

// New initialises an empty outbox.
func New() *Outbox {
	return &Outbox{subs: make(map[int]chan vesting.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (o *Outbox) Subscribe(ctx context.Context) <-chan vesting.Event {
	ch := make(chan vesting.Event, 16)

	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = ch
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.subs, id)
		close(ch)
		o.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (o *Outbox) Publish(evt vesting.Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
