package transfer

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Inbox is a ready-made listener for a feature view: it queues deliveries
// until the view consumes them. Mount and Unmount bracket the view's lifetime.
type Inbox struct {
	feature domain.Feature
	actions []domain.TransferAction

	mu          sync.Mutex
	items       []domain.Delivery
	signal      chan struct{}
	unsubscribe func()
}

// NewInbox creates an inbox accepting the given actions.
func NewInbox(feature domain.Feature, actions ...domain.TransferAction) *Inbox {
	return &Inbox{
		feature: feature,
		actions: actions,
		signal:  make(chan struct{}, 1),
	}
}

// Feature is the feature this inbox listens for.
func (i *Inbox) Feature() domain.Feature { return i.feature }

// Handlers returns one queuing handler per accepted action.
func (i *Inbox) Handlers() Handlers {
	handlers := make(Handlers, len(i.actions))
	for _, action := range i.actions {
		handlers[action] = i.push
	}
	return handlers
}

// Mount subscribes the inbox, superseding whatever listener the feature had.
func (i *Inbox) Mount(d *Dispatcher) error {
	unsubscribe, err := d.Subscribe(i.feature, i.Handlers())
	if err != nil {
		return err
	}
	i.mu.Lock()
	prev := i.unsubscribe
	i.unsubscribe = unsubscribe
	i.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Unmount unsubscribes. Queued deliveries stay available.
func (i *Inbox) Unmount() {
	i.mu.Lock()
	unsubscribe := i.unsubscribe
	i.unsubscribe = nil
	i.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (i *Inbox) push(_ context.Context, d domain.Delivery) error {
	i.mu.Lock()
	i.items = append(i.items, d)
	i.mu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}
	return nil
}

// Drain returns and clears every queued delivery.
func (i *Inbox) Drain() []domain.Delivery {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.items
	i.items = nil
	return out
}

// Len is the number of queued deliveries.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.items)
}

// Next blocks until a delivery is queued or ctx ends.
func (i *Inbox) Next(ctx context.Context) (domain.Delivery, error) {
	for {
		i.mu.Lock()
		if len(i.items) > 0 {
			d := i.items[0]
			i.items = i.items[1:]
			i.mu.Unlock()
			return d, nil
		}
		i.mu.Unlock()

		select {
		case <-i.signal:
		case <-ctx.Done():
			return domain.Delivery{}, ctx.Err()
		}
	}
}
