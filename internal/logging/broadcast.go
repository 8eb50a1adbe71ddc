package logging

import (
	"container/ring"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultTailSize is the number of log lines a Tail keeps in memory.
const DefaultTailSize = 200

// maxPendingBytes bounds an unterminated line; longer fragments are emitted
// as a line of their own.
const maxPendingBytes = 64 * 1024

// Tail captures writes line by line, keeps a short history and broadcasts
// each line to subscribers. Slow subscribers miss lines rather than block
// the writer.
type Tail struct {
	mu          sync.RWMutex
	buffer      *ring.Ring
	size        int
	subscribers map[string]chan string
	pending     strings.Builder
	dropped     atomic.Uint64
}

// NewTail creates a Tail that remembers size lines.
func NewTail(size int) *Tail {
	if size < 1 {
		size = DefaultTailSize
	}
	return &Tail{
		buffer:      ring.New(size),
		size:        size,
		subscribers: make(map[string]chan string),
	}
}

// Write implements io.Writer. Each non-empty line becomes one entry. A
// trailing fragment without a newline is held until a later write ends it.
func (t *Tail) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Builder copies p; zerolog reuses it
	t.pending.Write(p)
	text := t.pending.String()
	t.pending.Reset()

	lines := strings.Split(text, "\n")
	rest := lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		t.appendLocked(line)
	}
	if len(rest) > maxPendingBytes {
		t.appendLocked(rest)
	} else {
		t.pending.WriteString(rest)
	}

	return len(p), nil
}

func (t *Tail) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	t.buffer.Value = line
	t.buffer = t.buffer.Next()

	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
			t.dropped.Add(1)
		}
	}
}

// Subscribe adds a subscriber and returns its id, its channel and a
// snapshot of the current history.
func (t *Tail) Subscribe() (string, <-chan string, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, t.size)
	t.subscribers[id] = ch

	return id, ch, t.historyLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Tail) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// History returns the remembered lines, oldest first.
func (t *Tail) History() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.historyLocked()
}

// Dropped returns how many line deliveries were skipped for slow subscribers.
func (t *Tail) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Tail) historyLocked() []string {
	history := make([]string, 0, t.size)
	t.buffer.Do(func(p interface{}) {
		if p != nil {
			history = append(history, p.(string))
		}
	})
	return history
}
