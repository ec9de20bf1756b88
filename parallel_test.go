package vault

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParallelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ParallelConfig
		wantErr bool
	}{
		{"disabled always valid", ParallelConfig{Enabled: false, MaxWorkers: -1}, false},
		{"defaults", DefaultParallelConfig(), false},
		{"negative workers", ParallelConfig{Enabled: true, MaxWorkers: -1}, true},
		{"too many workers", ParallelConfig{Enabled: true, MaxWorkers: 2000}, true},
		{"negative threshold", ParallelConfig{Enabled: true, MinChunksForParallel: -1}, true},
		{"threshold too high", ParallelConfig{Enabled: true, MinChunksForParallel: 5000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunChunkJobsSequentialWhenDisabled(t *testing.T) {
	jobs := make([]*chunkCodecJob, 10)
	for i := range jobs {
		jobs[i] = &chunkCodecJob{index: uint64(i)}
	}
	var order []uint64
	err := runChunkJobs(ParallelConfig{Enabled: false}, jobs, func(j *chunkCodecJob) error {
		order = append(order, j.index)
		return nil
	})
	if err != nil {
		t.Fatalf("runChunkJobs: %v", err)
	}
	for i, idx := range order {
		if idx != uint64(i) {
			t.Fatalf("expected sequential processing in order, got %v", order)
		}
	}
}

func TestRunChunkJobsParallelProcessesEveryJob(t *testing.T) {
	jobs := make([]*chunkCodecJob, 50)
	for i := range jobs {
		jobs[i] = &chunkCodecJob{index: uint64(i), plaintext: []byte{byte(i)}}
	}
	cfg := ParallelConfig{Enabled: true, MaxWorkers: 4, MinChunksForParallel: 4}
	err := runChunkJobs(cfg, jobs, func(j *chunkCodecJob) error {
		j.ciphertext = append([]byte{}, j.plaintext...)
		return nil
	})
	if err != nil {
		t.Fatalf("runChunkJobs: %v", err)
	}
	for _, j := range jobs {
		if len(j.ciphertext) != 1 || j.ciphertext[0] != byte(j.index) {
			t.Fatalf("job %d not processed correctly: %+v", j.index, j)
		}
	}
}

func TestRunChunkJobsBelowThresholdRunsSequentially(t *testing.T) {
	jobs := []*chunkCodecJob{{index: 0}, {index: 1}}
	cfg := ParallelConfig{Enabled: true, MaxWorkers: 4, MinChunksForParallel: 10}
	var n int
	err := runChunkJobs(cfg, jobs, func(j *chunkCodecJob) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("runChunkJobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs processed, got %d", n)
	}
}

func TestRunChunkJobsPropagatesError(t *testing.T) {
	jobs := make([]*chunkCodecJob, 20)
	for i := range jobs {
		jobs[i] = &chunkCodecJob{index: uint64(i)}
	}
	cfg := ParallelConfig{Enabled: true, MaxWorkers: 4, MinChunksForParallel: 4}
	wantErr := errors.New("boom")
	err := runChunkJobs(cfg, jobs, func(j *chunkCodecJob) error {
		if j.index == 5 {
			return wantErr
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected an error to propagate")
	}
}

func TestWriteReadEncryptedFileWithParallelEncryptDecrypt(t *testing.T) {
	v := newTestVault(t)
	v.cfg.Parallel = ParallelConfig{Enabled: true, MaxWorkers: 4, MinChunksForParallel: 1}

	plaintext := make([]byte, ChunkPayloadSize*5+123)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	path := filepath.Join(v.dataRoot(), "parallel-body-test")
	if _, err := v.writeEncryptedFile(path, plaintext); err != nil {
		t.Fatalf("writeEncryptedFile: %v", err)
	}

	got, err := v.readEncryptedFile(path)
	if err != nil {
		t.Fatalf("readEncryptedFile: %v", err)
	}
	if len(got) != len(plaintext) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(plaintext))
	}
	for i := range plaintext {
		if got[i] != plaintext[i] {
			t.Fatalf("byte mismatch at %d: got %d want %d", i, got[i], plaintext[i])
		}
	}
}
