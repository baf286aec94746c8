package pipeline

import (
	"sync"
	"time"
)

// TraceEntry is one line of a run's audit log.
type TraceEntry struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// ProgressCallback is called with every trace entry as it is appended.
type ProgressCallback func(entry TraceEntry)

// Trace is an append-only log. Entries are numbered from 1 in append order and
// never reordered. Subscribers are called outside the log lock, one entry at a
// time and in sequence order, so a slow subscriber never blocks Append for
// other goroutines.
type Trace struct {
	mu          sync.Mutex
	runID       string
	entries     []TraceEntry
	subscribers map[int]*subscriber
	nextSub     int
	now         func() time.Time
}

// subscriber tracks the next entry owed to one callback. At most one
// goroutine delivers to it at a time.
type subscriber struct {
	cb ProgressCallback

	mu     sync.Mutex
	next   int
	busy   bool
	closed bool
}

// NewTrace creates an empty trace for a run.
func NewTrace(runID string) *Trace {
	return &Trace{runID: runID, subscribers: make(map[int]*subscriber), now: time.Now}
}

// Append adds an entry and notifies subscribers.
func (t *Trace) Append(stage, kind, message string, data any) TraceEntry {
	t.mu.Lock()
	entry := TraceEntry{
		Seq:     len(t.entries) + 1,
		Time:    t.now(),
		RunID:   t.runID,
		Stage:   stage,
		Kind:    kind,
		Message: message,
		Data:    data,
	}
	t.entries = append(t.entries, entry)
	subs := make([]*subscriber, 0, len(t.subscribers))
	for i := 0; i < t.nextSub; i++ {
		if sub, ok := t.subscribers[i]; ok {
			subs = append(subs, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(t)
	}
	return entry
}

// deliver sends every pending entry to the callback. If another goroutine is
// already delivering, it returns at once and that goroutine picks up the new
// entries before it lets go.
func (s *subscriber) deliver(t *Trace) {
	s.mu.Lock()
	if s.busy || s.closed {
		s.mu.Unlock()
		return
	}
	s.busy = true
	for {
		pending := t.Since(s.next - 1)
		if len(pending) == 0 || s.closed {
			s.busy = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		for _, e := range pending {
			s.cb(e)
		}

		s.mu.Lock()
		s.next = pending[len(pending)-1].Seq + 1
	}
}

// Subscribe registers a callback for future entries and returns a function
// that removes it. A delivery already under way may still complete.
func (t *Trace) Subscribe(cb ProgressCallback) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	sub := &subscriber{cb: cb, next: len(t.entries) + 1}
	t.subscribers[id] = sub
	return func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()

		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// Entries returns a copy of the log.
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Since returns the entries with Seq greater than seq.
func (t *Trace) Since(seq int) []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(t.entries) {
		return nil
	}
	out := make([]TraceEntry, len(t.entries)-seq)
	copy(out, t.entries[seq:])
	return out
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
