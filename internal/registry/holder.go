package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event reports a template change between two registries.
type Event struct {
	Type      EventType
	Name      string
	Timestamp time.Time
}

// EventType represents the type of registry event.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	}
	return "unknown"
}

// Holder publishes the current Registry. Loads are lock free; Swap
// notifies watchers of what changed.
type Holder struct {
	current  atomic.Pointer[Registry]
	mutex    sync.Mutex
	watchers []chan Event
}

// NewHolder creates a holder publishing reg, which may be nil.
func NewHolder(reg *Registry) *Holder {
	h := &Holder{}
	if reg != nil {
		h.current.Store(reg)
	}
	return h
}

// Load returns the current registry.
func (h *Holder) Load() *Registry { return h.current.Load() }

// Swap publishes reg and returns the previous registry. Every template
// present in either registry produces an event; templates in both are
// reported as updated.
func (h *Holder) Swap(reg *Registry) *Registry {
	old := h.current.Swap(reg)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	now := time.Now()
	for _, ev := range diff(old, reg) {
		ev.Timestamp = now
		for _, watcher := range h.watchers {
			select {
			case watcher <- ev:
			default:
				// Skip if channel is full
			}
		}
	}
	return old
}

func diff(old, cur *Registry) []Event {
	before := map[string]bool{}
	if old != nil {
		for _, n := range old.names {
			before[n] = true
		}
	}
	var events []Event
	if cur != nil {
		for _, n := range cur.names {
			typ := EventTypeAdded
			if before[n] {
				typ = EventTypeUpdated
				delete(before, n)
			}
			events = append(events, Event{Type: typ, Name: n})
		}
	}
	if old != nil {
		for _, n := range old.names {
			if before[n] {
				events = append(events, Event{Type: EventTypeRemoved, Name: n})
			}
		}
	}
	return events
}

// Watch returns a channel that receives registry events.
func (h *Holder) Watch() <-chan Event {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := make(chan Event, 100)
	h.watchers = append(h.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (h *Holder) UnWatch(ch <-chan Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i, watcher := range h.watchers {
		if watcher == ch {
			close(watcher)
			h.watchers = append(h.watchers[:i], h.watchers[i+1:]...)
			break
		}
	}
}
