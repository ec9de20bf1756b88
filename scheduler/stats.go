package scheduler

import "sync/atomic"

// laneStats are the per-lane counters spec.md §4.10 asks for: accepted,
// rejected, timed-out, and currently in-flight request counts, plus
// current queue depth.
type laneStats struct {
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	timedOut  atomic.Uint64
	inFlight  atomic.Int64
	queueDepth atomic.Int64
}

// LaneSnapshot is a point-in-time read of one lane's counters.
type LaneSnapshot struct {
	Accepted   uint64
	Rejected   uint64
	TimedOut   uint64
	InFlight   int64
	QueueDepth int64
}

func (s *laneStats) snapshot() LaneSnapshot {
	return LaneSnapshot{
		Accepted:   s.accepted.Load(),
		Rejected:   s.rejected.Load(),
		TimedOut:   s.timedOut.Load(),
		InFlight:   s.inFlight.Load(),
		QueueDepth: s.queueDepth.Load(),
	}
}

// Stats is a full snapshot of the scheduler's counters: totals, one
// LaneSnapshot per lane, dedup leader/waiter counts, per-file
// waiter/immediate counts, and the two timing fields spec.md §4.10 calls
// for (oldest-queued wait, last-dequeue timestamp). Every contributing
// counter is a plain atomic; there is no cross-counter consistency
// guarantee, matching spec.md §5's stats stance.
type Stats struct {
	Lanes [int(numLanes)]LaneSnapshot

	TotalAccepted  uint64
	TotalRejected  uint64
	TotalTimedOut  uint64
	TotalInFlight  int64
	TotalQueueDepth int64

	LateCompletions uint64

	DedupLeaders uint64
	DedupWaiters uint64

	FileWaiters   uint64
	FileImmediate uint64

	// OldestQueuedWaitMillis is how long the longest-waiting still-queued
	// ticket has been sitting, in milliseconds; 0 if nothing is queued.
	OldestQueuedWaitMillis int64
	// LastDequeueUnixNano is the time.UnixNano of the most recent
	// successful Dequeue, 0 if none has happened yet.
	LastDequeueUnixNano int64
}

type schedulerStats struct {
	lanes [numLanes]laneStats

	lateCompletions atomic.Uint64
	dedupLeaders    atomic.Uint64
	dedupWaiters    atomic.Uint64
	fileWaiters     atomic.Uint64
	fileImmediate   atomic.Uint64
	lastDequeueNano atomic.Int64
}

func (s *schedulerStats) recordAccepted(l Lane) { s.lanes[l].accepted.Add(1) }
func (s *schedulerStats) recordRejected(l Lane) { s.lanes[l].rejected.Add(1) }
func (s *schedulerStats) recordTimedOut(l Lane) { s.lanes[l].timedOut.Add(1) }
func (s *schedulerStats) recordLateCompletion() { s.lateCompletions.Add(1) }
func (s *schedulerStats) recordDedupLeader()    { s.dedupLeaders.Add(1) }
func (s *schedulerStats) recordDedupWaiter()    { s.dedupWaiters.Add(1) }
func (s *schedulerStats) recordFileWaiter()     { s.fileWaiters.Add(1) }
func (s *schedulerStats) recordFileImmediate()  { s.fileImmediate.Add(1) }

func (s *schedulerStats) adjustQueueDepth(l Lane, delta int64) {
	s.lanes[l].queueDepth.Add(delta)
}

func (s *schedulerStats) adjustInFlight(l Lane, delta int64) {
	s.lanes[l].inFlight.Add(delta)
}

func (s *schedulerStats) recordDequeue(nowUnixNano int64) {
	s.lastDequeueNano.Store(nowUnixNano)
}

func (s *schedulerStats) snapshot(oldestWaitMillis int64) Stats {
	out := Stats{
		LateCompletions: s.lateCompletions.Load(),
		DedupLeaders:    s.dedupLeaders.Load(),
		DedupWaiters:    s.dedupWaiters.Load(),
		FileWaiters:     s.fileWaiters.Load(),
		FileImmediate:   s.fileImmediate.Load(),
		OldestQueuedWaitMillis: oldestWaitMillis,
		LastDequeueUnixNano:    s.lastDequeueNano.Load(),
	}
	for i := range s.lanes {
		ls := s.lanes[i].snapshot()
		out.Lanes[i] = ls
		out.TotalAccepted += ls.Accepted
		out.TotalRejected += ls.Rejected
		out.TotalTimedOut += ls.TimedOut
		out.TotalInFlight += ls.InFlight
		out.TotalQueueDepth += ls.QueueDepth
	}
	return out
}
