package push

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport/Publisher used by tests and
// single-process runs where api and worker share an address space.
type MemoryTransport struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

// NewMemoryTransport constructs an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]chan Event)}
}

// Subscribe registers a channel for the pair; it closes on ctx cancellation.
func (t *MemoryTransport) Subscribe(ctx context.Context, jobID, docID string) (<-chan Event, error) {
	key := channelKey(jobID, docID)
	ch := make(chan Event, 16)

	t.mu.Lock()
	t.subs[key] = append(t.subs[key], ch)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		chans := t.subs[key]
		for i, c := range chans {
			if c == ch {
				t.subs[key] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Publish delivers ev to every subscriber of the pair. Slow subscribers are
// skipped rather than blocked on; push delivery is best-effort.
func (t *MemoryTransport) Publish(_ context.Context, jobID, docID string, ev Event) error {
	key := channelKey(jobID, docID)

	t.mu.Lock()
	chans := append([]chan Event(nil), t.subs[key]...)
	t.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
