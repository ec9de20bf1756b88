// Package scheduler implements the five-lane priority I/O scheduler
// spec.md §4.10 describes for mount backends that want to multiplex many
// concurrent requests while keeping metadata and control traffic
// responsive. It has no dependency on the rest of the vault engine: a
// caller submits an opaque Request, is handed back a ticket, and later
// Dequeues work to run and reports its outcome with Complete.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// OpKind distinguishes a read from a write for per-file ordering
// purposes (spec.md §4.10's read-after-write barrier only applies to
// reads following a pending write).
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
)

// Request describes one unit of scheduled work. Path, when non-empty, is
// the per-file ordering key (spec.md's "per-inode sequence number").
// Fingerprint, when non-empty on an OpRead, is the key a caller passes
// to CoalesceRead to deduplicate identical in-flight reads. Payload is
// opaque to the scheduler; callers stash whatever they need to run the
// operation once it's dequeued.
type Request struct {
	Lane        Lane
	Kind        OpKind
	Path        string
	Fingerprint string
	Deadline    time.Time
	Payload     any
}

// RejectReason is why Submit declined a request.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectQueueFull
	RejectShuttingDown
)

// SubmitResult is what Submit returns: either an accepted ticket or a
// reason for rejection. Submit never blocks (spec.md §4.10 "Admission").
type SubmitResult struct {
	Ticket   uint64
	Accepted bool
	Reason   RejectReason
}

// ticket is the scheduler's internal bookkeeping for one submitted
// Request; only its ID is ever exposed to callers.
type ticket struct {
	id  uint64
	req Request

	enqueuedAt time.Time
	queuePos   int // index within its laneQueue.items, -1 when not queued
	heapIndex  int // index within the deadline heap, -1 when absent

	state ticketState
}

type ticketState uint8

const (
	stateBarrier ticketState = iota // waiting behind another write on the same file
	stateQueued                     // sitting in its lane, eligible for Dequeue
	stateDone                       // dispatched and completed, or expired
)

// fileState tracks per-path write ordering: at most one write per file
// is ever enqueued at a time, and reads arriving while a write is
// pending are held back until it completes (spec.md's read-after-write
// barrier).
type fileState struct {
	pendingWrite  *ticket
	blockedWrites []*ticket
	blockedReads  []*ticket
}

// Scheduler is the five-lane admission/dispatch engine. The zero value is
// not usable; construct with New.
type Scheduler struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	lanes    [numLanes]laneQueue
	queueCap int // per-lane cap; 0 means unbounded

	files map[string]*fileState

	deadlines deadlineHeap

	nextTicket uint64
	closed     bool

	stats schedulerStats

	reads     singleflight.Group
	sweepDone chan struct{}
}

// New returns a running Scheduler. queueCap bounds each lane independently
// (0 = unbounded); sweepInterval governs how often pending, not-yet-
// dequeued requests are checked against their deadlines (0 disables the
// background sweep — Dequeue still honors deadlines for anything it pops).
func New(queueCap int, sweepInterval time.Duration) *Scheduler {
	s := &Scheduler{
		queueCap: queueCap,
		files:    make(map[string]*fileState),
	}
	s.notEmpty = sync.NewCond(&s.mu)
	if sweepInterval > 0 {
		s.sweepDone = make(chan struct{})
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Close shuts the scheduler down: further Submits are rejected, and any
// goroutine blocked in Dequeue is woken with ErrShutdown.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notEmpty.Broadcast()
	if s.sweepDone != nil {
		close(s.sweepDone)
	}
}

func (s *Scheduler) fileFor(path string) *fileState {
	fs, ok := s.files[path]
	if !ok {
		fs = &fileState{}
		s.files[path] = fs
	}
	return fs
}

// Submit admits req, returning immediately with a ticket or a rejection
// reason. It never blocks.
func (s *Scheduler) Submit(req Request) SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.stats.recordRejected(req.Lane)
		return SubmitResult{Accepted: false, Reason: RejectShuttingDown}
	}
	if s.queueCap > 0 && s.lanes[req.Lane].len() >= s.queueCap {
		s.stats.recordRejected(req.Lane)
		return SubmitResult{Accepted: false, Reason: RejectQueueFull}
	}

	s.nextTicket++
	t := &ticket{
		id:         s.nextTicket,
		req:        req,
		enqueuedAt: time.Now(),
		queuePos:   -1,
		heapIndex:  -1,
	}
	s.stats.recordAccepted(req.Lane)

	s.admitToFileOrder(t)
	if !req.Deadline.IsZero() {
		heap.Push(&s.deadlines, t)
	}
	return SubmitResult{Ticket: t.id, Accepted: true}
}

// admitToFileOrder either queues t in its lane right away or, if t is
// constrained by a pending write to the same path, parks it until that
// write completes.
func (s *Scheduler) admitToFileOrder(t *ticket) {
	if t.req.Path == "" {
		s.enqueue(t)
		return
	}
	fs := s.fileFor(t.req.Path)
	switch t.req.Kind {
	case OpWrite:
		if fs.pendingWrite == nil {
			fs.pendingWrite = t
			s.enqueue(t)
		} else {
			t.state = stateBarrier
			fs.blockedWrites = append(fs.blockedWrites, t)
		}
	case OpRead:
		if fs.pendingWrite == nil {
			s.enqueue(t)
			s.stats.recordFileImmediate()
		} else {
			t.state = stateBarrier
			fs.blockedReads = append(fs.blockedReads, t)
			s.stats.recordFileWaiter()
		}
	}
}

func (s *Scheduler) enqueue(t *ticket) {
	t.state = stateQueued
	s.lanes[t.req.Lane].push(t)
	s.stats.adjustQueueDepth(t.req.Lane, 1)
	s.notEmpty.Signal()
}

// Dequeue blocks until a request is ready to run, the context is
// canceled, or the scheduler is closed. It scans lanes highest-priority
// first and skips (dropping, with a recorded timeout) any ticket whose
// deadline has already passed.
func (s *Scheduler) Dequeue(ctx context.Context) (uint64, Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.notEmpty.Broadcast() })
	defer stop()

	for {
		if t := s.popReadyLocked(); t != nil {
			s.stats.adjustInFlight(t.req.Lane, 1)
			s.stats.recordDequeue(time.Now().UnixNano())
			return t.id, t.req, nil
		}
		if s.closed {
			return 0, Request{}, ErrShutdown
		}
		if err := ctx.Err(); err != nil {
			return 0, Request{}, err
		}
		s.notEmpty.Wait()
	}
}

// popReadyLocked pops the first non-expired ticket from the
// highest-priority non-empty lane, discarding any expired ones it
// encounters along the way. Caller holds s.mu.
func (s *Scheduler) popReadyLocked() *ticket {
	now := time.Now()
	for lane := Lane(0); lane < numLanes; lane++ {
		q := &s.lanes[lane]
		for q.len() > 0 {
			t := q.popFront()
			s.stats.adjustQueueDepth(lane, -1)
			if !t.req.Deadline.IsZero() && now.After(t.req.Deadline) {
				s.removeFromDeadlineHeapLocked(t)
				s.expireLocked(t)
				continue
			}
			s.removeFromDeadlineHeapLocked(t)
			return t
		}
	}
	return nil
}

func (s *Scheduler) removeFromDeadlineHeapLocked(t *ticket) {
	if t.heapIndex >= 0 {
		heap.Remove(&s.deadlines, t.heapIndex)
	}
}

// expireLocked marks t Timeout and releases anything chained behind it.
func (s *Scheduler) expireLocked(t *ticket) {
	s.stats.recordTimedOut(t.req.Lane)
	t.state = stateDone
	s.releaseFileOrderLocked(t.req)
}

// Complete reports the outcome of the request Dequeue returned as
// (ticketID, req): it advances per-file ordering, releasing whatever was
// blocked behind a completed write, and records a late_completion if the
// request's own deadline had already passed by the time the caller
// finished the work.
func (s *Scheduler) Complete(ticketID uint64, req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.adjustInFlight(req.Lane, -1)
	if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
		s.stats.recordLateCompletion()
	}
	s.releaseFileOrderLocked(req)
}

// releaseFileOrderLocked admits whatever was blocked behind a completed
// write on req.Path: every blocked read, then (if any) the next blocked
// write in submission order. A no-op for reads and path-less requests.
func (s *Scheduler) releaseFileOrderLocked(req Request) {
	if req.Path == "" || req.Kind != OpWrite {
		return
	}
	fs, ok := s.files[req.Path]
	if !ok {
		return
	}
	fs.pendingWrite = nil

	for _, r := range fs.blockedReads {
		s.admitToFileOrder(r)
	}
	fs.blockedReads = nil

	if len(fs.blockedWrites) > 0 {
		next := fs.blockedWrites[0]
		fs.blockedWrites = fs.blockedWrites[1:]
		fs.pendingWrite = next
		s.enqueue(next)
	}
}

// CoalesceRead runs fn at most once per fingerprint among concurrent
// callers: the first caller to arrive ("leader") executes fn and its
// result is shared with every other caller using the same fingerprint
// that arrived while it was running ("waiters"), per spec.md §4.10's
// single-flight requirement. Leader/waiter observability comes straight
// from singleflight.Group.Do's shared return value.
func (s *Scheduler) CoalesceRead(fingerprint string, fn func() (any, error)) (any, error) {
	v, err, shared := s.reads.Do(fingerprint, fn)
	if shared {
		s.stats.recordDedupWaiter()
	} else {
		s.stats.recordDedupLeader()
	}
	return v, err
}

// Stats returns a snapshot of the scheduler's counters (spec.md §4.10).
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldestMillis int64
	for lane := range s.lanes {
		if oldest := s.lanes[lane].oldest(); oldest != nil {
			waited := time.Since(oldest.enqueuedAt).Milliseconds()
			if waited > oldestMillis {
				oldestMillis = waited
			}
		}
	}
	return s.stats.snapshot(oldestMillis)
}

// sweepLoop periodically drops any queued ticket whose deadline has
// already passed, so a request stuck behind higher-priority traffic
// doesn't sit forever unaccounted for (spec.md's "if they haven't been
// dequeued they are dropped with a Timeout result").
func (s *Scheduler) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepDone:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Scheduler) sweepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for s.deadlines.Len() > 0 && now.After(s.deadlines[0].req.Deadline) {
		t := heap.Pop(&s.deadlines).(*ticket)
		switch t.state {
		case stateQueued:
			if s.lanes[t.req.Lane].remove(t) {
				s.stats.adjustQueueDepth(t.req.Lane, -1)
				s.expireLocked(t)
			}
		case stateBarrier:
			if s.unblockLocked(t) {
				// A barriered ticket never occupied its file's pending-
				// write slot or any lane, so there is nothing to release
				// beyond removing it from the blocked list above.
				t.state = stateDone
				s.stats.recordTimedOut(t.req.Lane)
			}
		}
	}
}

// unblockLocked removes a barriered (not yet admitted to any lane)
// ticket from whichever file's blocked list holds it, so a request stuck
// behind a stalled write can still time out rather than wait forever.
func (s *Scheduler) unblockLocked(t *ticket) bool {
	fs, ok := s.files[t.req.Path]
	if !ok {
		return false
	}
	for i, r := range fs.blockedReads {
		if r == t {
			fs.blockedReads = append(fs.blockedReads[:i], fs.blockedReads[i+1:]...)
			return true
		}
	}
	for i, w := range fs.blockedWrites {
		if w == t {
			fs.blockedWrites = append(fs.blockedWrites[:i], fs.blockedWrites[i+1:]...)
			return true
		}
	}
	return false
}
