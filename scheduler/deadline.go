package scheduler

// deadlineHeap orders tickets by deadline (earliest first), letting the
// sweep loop find and drop the next expiring request without scanning
// every lane. Shape follows the expiry-heap used for rclone's vfscache
// writeback queue: a slice-backed container/heap.Interface with each
// element tracking its own heap index for O(log n) removal.
type deadlineHeap []*ticket

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].req.Deadline.Before(h[j].req.Deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x any) {
	t := x.(*ticket)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}
