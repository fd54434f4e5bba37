// Package limiter implements the adaptive concurrency limiter described in
// spec.md §5: a process-wide semaphore whose capacity grows from a floor
// toward a ceiling as it observes most in-flight tasks making progress, and
// never forcibly revokes a permit once issued.
//
// The semaphore itself is the teacher's channel-of-tokens idiom (see
// internal/ratelimit.Policy and internal/rtt.Comparer's `sem := make(chan
// struct{}, n)`), generalized so capacity can grow at runtime: the channel
// is allocated at its maximum size up front, and grown only by feeding more
// tokens into it, never by draining tokens back out.
package limiter

import (
	"context"
	"sync"
	"time"
)

const (
	// adjustInterval is how often the stall ratio is recomputed.
	adjustInterval = time.Second
	// warmup is how long the limiter waits before its first adjustment, so
	// early connection-setup latency doesn't look like stalling.
	warmup = 5 * time.Second
	// stallThreshold is how long a task can go without progress before it
	// counts as stalled for the current interval.
	stallThreshold = 3 * time.Second
)

// Limiter is an adaptive, growth-only concurrency semaphore.
type Limiter struct {
	min, max int64

	mu       sync.Mutex
	tokens   chan struct{}
	issued   int64 // how many tokens have ever been placed in the channel
	target   int64 // current desired capacity
	tasks    map[uint64]*taskState
	nextID   uint64
	freeIDs  []uint64
	started  time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type taskState struct {
	lastProgress time.Time
}

// Permit represents one held slot in the limiter. Callers must call End
// when the task finishes, win or lose.
type Permit struct {
	id uint64
	l  *Limiter
}

// New builds a Limiter bounded to [min, max]. min is granted immediately;
// max bounds how far the adaptive loop may grow it. Call Stop when done.
func New(min, max int64) *Limiter {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	l := &Limiter{
		min:     min,
		max:     max,
		tokens:  make(chan struct{}, max),
		target:  min,
		tasks:   make(map[uint64]*taskState),
		started: time.Now(),
		stopCh:  make(chan struct{}),
	}
	for i := int64(0); i < min; i++ {
		l.tokens <- struct{}{}
	}
	l.issued = min

	l.wg.Add(1)
	go l.adjustLoop()
	return l
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case <-l.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	var id uint64
	if n := len(l.freeIDs); n > 0 {
		id = l.freeIDs[n-1]
		l.freeIDs = l.freeIDs[:n-1]
	} else {
		l.nextID++
		id = l.nextID
	}
	l.tasks[id] = &taskState{lastProgress: time.Now()}
	l.mu.Unlock()

	return &Permit{id: id, l: l}, nil
}

// RecordProgress marks p's task as having made forward progress just now,
// excluding it from the current interval's stall count.
func (p *Permit) RecordProgress() {
	p.l.mu.Lock()
	if t, ok := p.l.tasks[p.id]; ok {
		t.lastProgress = time.Now()
	}
	p.l.mu.Unlock()
}

// End releases the permit, returning its token to the pool and its ID to
// the free list for reuse.
func (p *Permit) End() {
	p.l.mu.Lock()
	delete(p.l.tasks, p.id)
	p.l.freeIDs = append(p.l.freeIDs, p.id)
	p.l.mu.Unlock()
	p.l.tokens <- struct{}{}
}

// Stop ends the background adjustment loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Limiter) adjustLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(adjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if time.Since(l.started) < warmup {
				continue
			}
			l.adjustOnce()
		}
	}
}

// adjustOnce recomputes the stall ratio over currently active tasks and
// grows capacity toward the formula's target. It never shrinks: if the
// formula yields a value at or below what's already issued, nothing
// changes, per spec.md §5's "permits are only added, never forcibly
// revoked."
func (l *Limiter) adjustOnce() {
	l.mu.Lock()
	now := time.Now()
	active := len(l.tasks)
	stalled := 0
	for _, t := range l.tasks {
		if now.Sub(t.lastProgress) > stallThreshold {
			stalled++
		}
	}
	current := l.target
	l.mu.Unlock()

	if active == 0 {
		return
	}

	stallRatio := float64(stalled) / float64(active)
	newTarget := float64(current) * (0.6 + 0.6*(1-stallRatio))
	target := int64(newTarget)
	if target > l.max {
		target = l.max
	}
	if target <= current {
		return
	}

	l.mu.Lock()
	grow := target - l.issued
	if grow > l.max-l.issued {
		grow = l.max - l.issued
	}
	if grow > 0 {
		for i := int64(0); i < grow; i++ {
			l.tokens <- struct{}{}
		}
		l.issued += grow
	}
	l.target = target
	l.mu.Unlock()
}
