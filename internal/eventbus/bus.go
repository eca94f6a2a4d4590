package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published inside the process.
const (
	RunStarted     = "run.started"
	RunFinished    = "run.finished"
	RunSkipped     = "run.skipped"
	ScheduleChange = "schedule.changed"
	ConfigReloaded = "config.reloaded"
	NotifySent     = "notifier.sent"
	NotifyFailed   = "notifier.failed"
	NotifyDropped  = "notifier.dropped"
	ProbeFinished  = "probe.finished"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber that
// falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything. Subscribers never receive.
func Nop() Bus { return nopBus{} }

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Held for reading across sends so unsubscribe cannot close a channel
	// mid-send; sends are non-blocking so the hold is short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	return make(chan Event), func() {}
}
