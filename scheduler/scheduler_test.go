package scheduler

import (
	"context"
	"testing"
	"time"
)

func mustDequeue(t *testing.T, s *Scheduler) (uint64, Request) {
	t.Helper()
	id, req, err := s.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	return id, req
}

func TestLanePriorityOrdering(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	lanes := []Lane{Bulk, WriteForeground, ReadForeground, Metadata, Control}
	for _, l := range lanes {
		if r := s.Submit(Request{Lane: l}); !r.Accepted {
			t.Fatalf("submit lane %v rejected", l)
		}
	}

	want := []Lane{Control, Metadata, ReadForeground, WriteForeground, Bulk}
	for _, w := range want {
		_, req := mustDequeue(t, s)
		if req.Lane != w {
			t.Fatalf("got lane %v, want %v", req.Lane, w)
		}
	}
}

func TestLaneFIFOWithinLane(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Submit(Request{Lane: Bulk, Path: "", Fingerprint: "", Deadline: time.Time{}, Payload: i})
	}
	for i := 0; i < 3; i++ {
		_, req := mustDequeue(t, s)
		if req.Payload.(int) != i {
			t.Fatalf("out of order: got %v want %d", req.Payload, i)
		}
	}
}

func TestQueueCapRejectsOverflow(t *testing.T) {
	s := New(1, 0)
	defer s.Close()

	r1 := s.Submit(Request{Lane: Bulk})
	if !r1.Accepted {
		t.Fatal("first submit should be accepted")
	}
	r2 := s.Submit(Request{Lane: Bulk})
	if r2.Accepted || r2.Reason != RejectQueueFull {
		t.Fatalf("second submit should be rejected with RejectQueueFull, got %+v", r2)
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	s := New(0, 0)
	s.Close()
	r := s.Submit(Request{Lane: Control})
	if r.Accepted || r.Reason != RejectShuttingDown {
		t.Fatalf("submit after close should be rejected, got %+v", r)
	}
}

func TestDequeueUnblocksOnClose(t *testing.T) {
	s := New(0, 0)

	done := make(chan error, 1)
	go func() {
		_, _, err := s.Dequeue(context.Background())
		done <- err
	}()

	// Give the goroutine a chance to block in Dequeue before closing.
	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err != ErrShutdown {
			t.Fatalf("expected ErrShutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func TestDequeueUnblocksOnContextCancel(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := s.Dequeue(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after context cancel")
	}
}

func TestWriteBarrierBlocksSubsequentReadUntilComplete(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	wr := s.Submit(Request{Lane: WriteForeground, Kind: OpWrite, Path: "/a/b.txt"})
	if !wr.Accepted {
		t.Fatal("write submit rejected")
	}
	rr := s.Submit(Request{Lane: ReadForeground, Kind: OpRead, Path: "/a/b.txt"})
	if !rr.Accepted {
		t.Fatal("read submit rejected")
	}

	// The write should dequeue first; the read is barriered behind it and
	// must not show up yet.
	id, req := mustDequeue(t, s)
	if id != wr.Ticket || req.Kind != OpWrite {
		t.Fatalf("expected the write ticket first, got id=%d kind=%v", id, req.Kind)
	}

	readyCh := make(chan struct{})
	go func() {
		mustDequeue(t, s)
		close(readyCh)
	}()

	select {
	case <-readyCh:
		t.Fatal("read was dequeued before the write completed")
	case <-time.After(50 * time.Millisecond):
	}

	s.Complete(id, req)

	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatal("read was never released after write completion")
	}
}

func TestSecondWriteQueuedBehindFirstOnSameFile(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	w1 := s.Submit(Request{Lane: WriteForeground, Kind: OpWrite, Path: "/f", Payload: 1})
	w2 := s.Submit(Request{Lane: WriteForeground, Kind: OpWrite, Path: "/f", Payload: 2})
	if !w1.Accepted || !w2.Accepted {
		t.Fatal("writes rejected")
	}

	id1, req1 := mustDequeue(t, s)
	if req1.Payload.(int) != 1 {
		t.Fatalf("expected first write, got payload %v", req1.Payload)
	}

	readyCh := make(chan Request, 1)
	go func() {
		_, req := mustDequeue(t, s)
		readyCh <- req
	}()

	select {
	case <-readyCh:
		t.Fatal("second write dequeued before first completed")
	case <-time.After(50 * time.Millisecond):
	}

	s.Complete(id1, req1)

	select {
	case req2 := <-readyCh:
		if req2.Payload.(int) != 2 {
			t.Fatalf("expected second write, got payload %v", req2.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("second write was never released")
	}
}

func TestReadsWithoutPendingWriteAreImmediate(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	r := s.Submit(Request{Lane: ReadForeground, Kind: OpRead, Path: "/x"})
	if !r.Accepted {
		t.Fatal("read submit rejected")
	}
	_, req := mustDequeue(t, s)
	if req.Path != "/x" {
		t.Fatalf("wrong request dequeued: %+v", req)
	}
	stats := s.Stats()
	if stats.FileImmediate == 0 {
		t.Fatal("expected FileImmediate to be recorded")
	}
}

func TestExpiredTicketIsSkippedAndCountedAsTimedOut(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	past := time.Now().Add(-time.Hour)
	expired := s.Submit(Request{Lane: Bulk, Deadline: past, Payload: "expired"})
	fresh := s.Submit(Request{Lane: Bulk, Payload: "fresh"})
	if !expired.Accepted || !fresh.Accepted {
		t.Fatal("submits rejected")
	}

	_, req := mustDequeue(t, s)
	if req.Payload.(string) != "fresh" {
		t.Fatalf("expected the expired ticket to be skipped, got %v", req.Payload)
	}

	stats := s.Stats()
	if stats.TotalTimedOut == 0 {
		t.Fatal("expected a timed-out ticket to be recorded")
	}
}

func TestLateCompletionRecorded(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	deadline := time.Now().Add(30 * time.Millisecond)
	r := s.Submit(Request{Lane: Control, Deadline: deadline})
	id, req := mustDequeue(t, s)
	if id != r.Ticket {
		t.Fatalf("unexpected ticket id %d", id)
	}

	time.Sleep(50 * time.Millisecond)
	s.Complete(id, req)

	stats := s.Stats()
	if stats.LateCompletions == 0 {
		t.Fatal("expected a late completion to be recorded")
	}
}

func TestCoalesceReadDeduplicatesConcurrentCallers(t *testing.T) {
	s := New(0, 0)
	defer s.Close()

	start := make(chan struct{})
	release := make(chan struct{})
	var calls int

	fn := func() (any, error) {
		calls++
		close(start)
		<-release
		return "result", nil
	}

	results := make(chan any, 2)
	go func() {
		v, _ := s.CoalesceRead("fp", fn)
		results <- v
	}()

	<-start
	go func() {
		v, _ := s.CoalesceRead("fp", func() (any, error) {
			t.Error("waiter should not execute its own fn")
			return nil, nil
		})
		results <- v
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		v := <-results
		if v != "result" {
			t.Fatalf("unexpected result %v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once, ran %d times", calls)
	}

	stats := s.Stats()
	if stats.DedupLeaders == 0 || stats.DedupWaiters == 0 {
		t.Fatalf("expected leader and waiter counts to be recorded, got %+v", stats)
	}
}

func TestSweepOnceExpiresQueuedBarrieredTicket(t *testing.T) {
	s := New(0, time.Millisecond)
	defer s.Close()

	// Occupy the file with a pending write so the next write is barriered.
	w1 := s.Submit(Request{Lane: WriteForeground, Kind: OpWrite, Path: "/p"})
	if !w1.Accepted {
		t.Fatal("first write rejected")
	}
	w2 := s.Submit(Request{
		Lane:     WriteForeground,
		Kind:     OpWrite,
		Path:     "/p",
		Deadline: time.Now().Add(10 * time.Millisecond),
	})
	if !w2.Accepted {
		t.Fatal("second write rejected")
	}

	time.Sleep(100 * time.Millisecond)

	stats := s.Stats()
	if stats.TotalTimedOut == 0 {
		t.Fatal("expected the barriered write to be swept as timed out")
	}
}
