package rtc

import (
	"sync"
	"time"
)

// SignalKind labels the transport signals recorded for diagnostics.
type SignalKind string

const (
	SignalGatheringProgress SignalKind = "gathering-progress"
	SignalNegotiationNeeded SignalKind = "negotiation-needed"
	SignalRemoteTrack       SignalKind = "remote-track"
)

// SignalEvent is one recorded transport signal.
type SignalEvent struct {
	Kind   SignalKind
	Detail string
	At     time.Time
}

// SignalLog is a thread-safe fixed-capacity ring of recent transport
// signals. The oldest entries are overwritten once full.
type SignalLog struct {
	mu       sync.RWMutex
	data     []SignalEvent
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest element
}

// NewSignalLog creates a ring with the given capacity.
func NewSignalLog(capacity int) *SignalLog {
	return &SignalLog{
		data:     make([]SignalEvent, capacity),
		capacity: capacity,
	}
}

// Record appends a signal occurrence.
func (l *SignalLog) Record(kind SignalKind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data[l.head] = SignalEvent{Kind: kind, Detail: detail, At: time.Now()}
	l.head = (l.head + 1) % l.capacity

	if l.size < l.capacity {
		l.size++
	} else {
		l.tail = (l.tail + 1) % l.capacity
	}
}

// Recent returns the most recent n events, newest first.
func (l *SignalLog) Recent(n int) []SignalEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.size {
		n = l.size
	}

	result := make([]SignalEvent, n)
	pos := (l.head - 1 + l.capacity) % l.capacity
	for i := 0; i < n; i++ {
		result[i] = l.data[pos]
		pos = (pos - 1 + l.capacity) % l.capacity
	}
	return result
}

// All returns every recorded event in chronological order.
func (l *SignalLog) All() []SignalEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.size == 0 {
		return nil
	}

	result := make([]SignalEvent, l.size)
	current := l.tail
	for i := 0; i < l.size; i++ {
		result[i] = l.data[current]
		current = (current + 1) % l.capacity
	}
	return result
}

// Size returns the number of events currently held.
func (l *SignalLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}
