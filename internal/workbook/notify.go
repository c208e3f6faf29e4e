package workbook

import (
	"context"
	"sync"
)

// subscriberBuffer is the number of undelivered events a subscriber may
// fall behind before further events to it are dropped.
const subscriberBuffer = 256

// fanout delivers events to subscribers, each on its own goroutine, so
// publishers never wait on a handler.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan Event)}
}

func (f *fanout) subscribe(ctx context.Context, h Handler) func() {
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once

	stop := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
			close(stop)
		})
	}

	go func() {
		for ev := range ch {
			h(ev)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()

	return unsubscribe
}

func (f *fanout) publish(events ...Event) {
	if len(events) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				// Subscriber is full; it catches up on its next full pass.
			}
		}
	}
}
