package vault

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls concurrent chunk en/decryption for bulk reads
// and write-buffer flushes.
type ParallelConfig struct {
	// Enabled turns on worker-pool chunk processing.
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines. 0 defaults
	// to runtime.NumCPU().
	MaxWorkers int

	// MinChunksForParallel is the minimum chunk count before the worker
	// pool is used; smaller jobs run sequentially on the calling
	// goroutine. Defaults to 4.
	MinChunksForParallel int
}

// Validate checks the parallel configuration.
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinChunksForParallel < 0 {
		return errors.New("parallel min chunks threshold cannot be negative")
	}
	if p.MinChunksForParallel > 1000 {
		return errors.New("parallel min chunks threshold must not exceed 1000")
	}
	return nil
}

// DefaultParallelConfig returns sane defaults: on, one worker per CPU,
// a floor of 4 chunks before bothering with the pool.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:              true,
		MaxWorkers:           runtime.NumCPU(),
		MinChunksForParallel: 4,
	}
}

// chunkCodecJob is one unit of chunk en/decryption work, processed either
// sequentially or by the worker pool depending on ParallelConfig and job
// count.
type chunkCodecJob struct {
	index     uint64
	plaintext []byte
	ciphertext []byte
	err       error
}

// runChunkJobs applies fn to every job, in parallel when cfg and the job
// count both justify it. A panic in a worker is recovered and surfaced
// as an error rather than crashing the caller.
func runChunkJobs(cfg ParallelConfig, jobs []*chunkCodecJob, fn func(*chunkCodecJob) error) error {
	if len(jobs) == 0 {
		return nil
	}

	threshold := cfg.MinChunksForParallel
	if threshold == 0 {
		threshold = 4
	}
	if !cfg.Enabled || len(jobs) < threshold {
		for _, j := range jobs {
			if err := fn(j); err != nil {
				return err
			}
		}
		return nil
	}

	numWorkers := cfg.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	jobChan := make(chan int, len(jobs))
	errChan := make(chan error, numWorkers)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					select {
					case errChan <- fmt.Errorf("panic in chunk worker: %v", r):
					default:
					}
				}
			}()
			for idx := range jobChan {
				if err := fn(jobs[idx]); err != nil {
					select {
					case errChan <- err:
					default:
					}
					return
				}
			}
		}()
	}

	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}
