package vault

import "sync/atomic"

// Stats is the vault's lock-free counter block (spec.md §5: "statistics are
// atomics; no lock-step consistency across counters, only per-counter
// atomicity"). Every field is only ever touched through atomic ops.
type Stats struct {
	opsTotal      atomic.Uint64
	opsFailed     atomic.Uint64
	bytesRead     atomic.Uint64
	bytesWritten  atomic.Uint64
	chunksRead    atomic.Uint64
	chunksWritten atomic.Uint64

	nameDecryptFailures atomic.Uint64
	integrityFailures   atomic.Uint64
}

// NewStats returns a zeroed stats block.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) recordOp(failed bool) {
	if s == nil {
		return
	}
	s.opsTotal.Add(1)
	if failed {
		s.opsFailed.Add(1)
	}
}

func (s *Stats) recordRead(n int) {
	if s == nil {
		return
	}
	s.bytesRead.Add(uint64(n))
}

func (s *Stats) recordWrite(n int) {
	if s == nil {
		return
	}
	s.bytesWritten.Add(uint64(n))
}

func (s *Stats) recordChunkRead()  { s.addChunk(&s.chunksRead) }
func (s *Stats) recordChunkWrite() { s.addChunk(&s.chunksWritten) }

func (s *Stats) addChunk(c *atomic.Uint64) {
	if s == nil {
		return
	}
	c.Add(1)
}

func (s *Stats) recordNameDecryptFailure() {
	if s == nil {
		return
	}
	s.nameDecryptFailures.Add(1)
}

func (s *Stats) recordIntegrityFailure() {
	if s == nil {
		return
	}
	s.integrityFailures.Add(1)
}

// StatsSnapshot is a point-in-time, non-atomic copy of Stats for callers
// that want to log or expose the counters (e.g. a health endpoint built on
// top of this library).
type StatsSnapshot struct {
	OpsTotal            uint64
	OpsFailed           uint64
	BytesRead           uint64
	BytesWritten        uint64
	ChunksRead          uint64
	ChunksWritten       uint64
	NameDecryptFailures uint64
	IntegrityFailures   uint64
}

// Snapshot reads every counter once. Individual fields may be slightly
// inconsistent with each other under concurrent load; only per-field
// atomicity is guaranteed.
func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		OpsTotal:            s.opsTotal.Load(),
		OpsFailed:           s.opsFailed.Load(),
		BytesRead:           s.bytesRead.Load(),
		BytesWritten:        s.bytesWritten.Load(),
		ChunksRead:          s.chunksRead.Load(),
		ChunksWritten:       s.chunksWritten.Load(),
		NameDecryptFailures: s.nameDecryptFailures.Load(),
		IntegrityFailures:   s.integrityFailures.Load(),
	}
}
