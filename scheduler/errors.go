package scheduler

import "errors"

// ErrShutdown is returned by Dequeue once the scheduler has been Closed.
var ErrShutdown = errors.New("scheduler is shutting down")
