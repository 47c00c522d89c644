// Package dedupe provides fast idempotency tracking for event
// ingestion, ahead of the store's own duplicate suppression.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/psymetric/internal/domain/model"
)

// EventKey builds the logical identity of an event for deduplication:
// session, event type, and the client-supplied event id. Events
// without a client id fall back to the server-assigned id and are
// therefore never coalesced.
func EventKey(e model.Event) string {
	id := e.ClientEventID
	if id == "" {
		id = e.ID
	}
	return e.SessionID + "\x00" + string(e.Type) + "\x00" + id
}

// Deduper records seen event keys to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was seen and records
	// it if not. Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord removes a key, allowing the event to be retried. Used
	// when an event was marked seen but failed to persist.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// node is a single entry in the eviction list.
type node struct {
	key  string
	next *node
}

func (n *node) reset() {
	n.key = ""
	n.next = nil
}

// inMemoryDeduper keeps seen keys in a map. In bounded mode a linked
// list tracks insertion order so the oldest entry can be evicted when
// the cap is hit; unbounded mode skips the list entirely.
type inMemoryDeduper struct {
	mu       sync.RWMutex
	seen     map[string]*node
	head     *node
	maxSize  int // 0 or negative means unbounded
	size     atomic.Int64
	nodePool sync.Pool
}

const defaultMaxSize = 50000

// NewInMemoryDeduper creates an in-memory deduper. The default cap
// bounds memory for long-running ingestion.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	if d.maxSize > 0 {
		d.nodePool = sync.Pool{
			New: func() interface{} {
				return &node{}
			},
		}
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize > 0 {
		if len(d.seen) >= d.maxSize {
			d.evictOldest()
		}
		n := d.nodePool.Get().(*node)
		n.key = key
		n.next = d.head
		d.head = n
		d.seen[key] = n
	} else {
		d.seen[key] = nil
	}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.seen[key]
	if !exists {
		return
	}
	delete(d.seen, key)

	if d.maxSize > 0 {
		if d.head == n {
			d.head = n.next
		} else {
			current := d.head
			for current != nil && current.next != n {
				current = current.next
			}
			if current != nil {
				current.next = n.next
			}
		}
		n.reset()
		d.nodePool.Put(n)
	}
	d.size.Add(-1)
}

// evictOldest drops the entry at the tail of the list. Caller holds
// the write lock.
func (d *inMemoryDeduper) evictOldest() {
	if len(d.seen) == 0 || d.head == nil {
		return
	}

	var prev *node
	current := d.head
	for current.next != nil {
		prev = current
		current = current.next
	}

	delete(d.seen, current.key)
	current.reset()
	d.nodePool.Put(current)
	if prev != nil {
		prev.next = nil
	} else {
		d.head = nil
	}
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
