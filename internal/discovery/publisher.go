package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neexbeast/culturalcompass/internal/metrics"
)

const defaultPersistTimeout = 5 * time.Second

// CacheWriter is the write half of CacheStore.
type CacheWriter interface {
	UpsertBatch(ctx context.Context, userID string, batch []Attraction) error
}

// Publisher fans snapshots out to subscribers and writes live batches to the cache.
type Publisher struct {
	cache   CacheWriter
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	subs   map[uint64]chan Snapshot
	nextID uint64
	latest *Snapshot
	closed bool

	// Cache writes run one at a time; only the newest unwritten batch is kept.
	pending  *pendingWrite
	writing  bool
	persists sync.WaitGroup
}

type pendingWrite struct {
	userID string
	batch  []Attraction
}

// NewPublisher constructs a Publisher. cache may be nil, in which case Persist is a no-op.
func NewPublisher(cache CacheWriter, log *slog.Logger) *Publisher {
	return &Publisher{
		cache:   cache,
		log:     log,
		timeout: defaultPersistTimeout,
		subs:    make(map[uint64]chan Snapshot),
	}
}

// Subscribe registers a consumer. The latest snapshot, if any, is delivered
// immediately. A consumer that falls behind loses older snapshots, never the newest.
func (p *Publisher) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(ch)
		return ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if p.latest != nil {
		ch <- *p.latest
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish records s as the latest snapshot and offers it to every subscriber without blocking.
func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.latest = &s

	for _, ch := range p.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Latest returns the most recently published snapshot.
func (p *Publisher) Latest() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Snapshot{}, false
	}
	return *p.latest, true
}

// Persist writes batch to the offline cache for userID in the background.
// Writes are serialized: a batch queued behind an in-flight write replaces any
// older queued batch, so the cache always ends with the most recent one.
// Failures are logged and counted; the published list is never affected.
func (p *Publisher) Persist(userID string, batch []Attraction) {
	if p.cache == nil || len(batch) == 0 {
		return
	}

	stored := make([]Attraction, len(batch))
	copy(stored, batch)
	for i := range stored {
		stored[i].Favorite = false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = &pendingWrite{userID: userID, batch: stored}
	if p.writing {
		return
	}
	p.writing = true
	p.persists.Add(1)
	go p.drain()
}

// drain writes queued batches until none is left.
func (p *Publisher) drain() {
	defer p.persists.Done()
	for {
		p.mu.Lock()
		w := p.pending
		p.pending = nil
		if w == nil {
			p.writing = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		p.write(w)
	}
}

func (p *Publisher) write(w *pendingWrite) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("cache persist panicked", "user", w.userID, "recover", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.cache.UpsertBatch(ctx, w.userID, w.batch); err != nil {
		metrics.CacheWriteFailures.Inc()
		p.log.Warn("cache write failed", "user", w.userID, "count", len(w.batch),
			"err", fmt.Errorf("%w: %w", ErrPersistenceWriteFailed, err))
	}
}

// Wait blocks until in-flight cache writes finish.
func (p *Publisher) Wait() {
	p.persists.Wait()
}

// Close waits for pending writes and closes every subscriber channel.
func (p *Publisher) Close() {
	p.persists.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
