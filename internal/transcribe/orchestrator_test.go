package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/autosub/internal/audio"
)

// fakeProvider scripts per-path behavior so tests can exercise retries,
// permanent failures and adversarial completion order.
type fakeProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	delays   map[string]time.Duration
	failures map[string][]error // errors returned before succeeding
	inflight atomic.Int64
	maxSeen  atomic.Int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:    make(map[string]int),
		delays:   make(map[string]time.Duration),
		failures: make(map[string][]error),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Limits() audio.ProviderLimits {
	return audio.ProviderLimits{MaxDuration: 10 * time.Minute, MaxBytes: 25 << 20}
}

func (f *fakeProvider) Transcribe(ctx context.Context, path string, opts TranscribeOpts) (*Transcript, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls[path]++
	call := f.calls[path]
	delay := f.delays[path]
	var scripted error
	if errs := f.failures[path]; call <= len(errs) {
		scripted = errs[call-1]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, transportError(ctx.Err())
		case <-time.After(delay):
		}
	}
	if scripted != nil {
		return nil, scripted
	}
	return &Transcript{
		Language: "en",
		Segments: []Segment{{Text: path, Start: 0, End: time.Second}},
	}, nil
}

func (f *fakeProvider) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func makeJobs(n int) []ChunkJob {
	jobs := make([]ChunkJob, n)
	for i := range jobs {
		jobs[i] = ChunkJob{
			Chunk: audio.Chunk{
				Index: i,
				Region: audio.SpeechRegion{
					Start: time.Duration(i) * 10 * time.Second,
					End:   time.Duration(i)*10*time.Second + 5*time.Second,
				},
			},
			Path: fmt.Sprintf("chunk-%03d.wav", i),
		}
	}
	return jobs
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func testOrchestrator(p Provider, concurrency int) *Orchestrator {
	return NewOrchestrator(p, Options{
		Concurrency: concurrency,
		Retry:       fastRetry(),
		Log:         zerolog.Nop(),
	})
}

func TestProcessChunksEmptyInput(t *testing.T) {
	o := testOrchestrator(newFakeProvider(), 4)
	res, err := o.ProcessChunks(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Segments) != 0 || len(res.Failed) != 0 {
		t.Fatalf("expected empty result, got %d segments, %d failures", len(res.Segments), len(res.Failed))
	}
}

func TestProcessChunksOrderedByIndex(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(8)
	// Early chunks finish last.
	for i, j := range jobs {
		p.delays[j.Path] = time.Duration(len(jobs)-i) * 10 * time.Millisecond
	}

	o := testOrchestrator(p, 8)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Segments) != len(jobs) {
		t.Fatalf("expected %d segments, got %d", len(jobs), len(res.Segments))
	}
	for i, seg := range res.Segments {
		if seg.Text != jobs[i].Path {
			t.Errorf("segment %d: got %q, want %q", i, seg.Text, jobs[i].Path)
		}
	}
}

func TestProcessChunksRebasesTimestamps(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(3)

	o := testOrchestrator(p, 2)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	for i, seg := range res.Segments {
		want := jobs[i].Region.Start
		if seg.Start != want {
			t.Errorf("segment %d: start %v, want %v", i, seg.Start, want)
		}
		if seg.End != want+time.Second {
			t.Errorf("segment %d: end %v, want %v", i, seg.End, want+time.Second)
		}
	}
}

func TestProcessChunksBoundedConcurrency(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(12)
	for _, j := range jobs {
		p.delays[j.Path] = 20 * time.Millisecond
	}

	o := testOrchestrator(p, 3)
	if _, err := o.ProcessChunks(context.Background(), jobs); err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if max := p.maxSeen.Load(); max > 3 {
		t.Errorf("observed %d concurrent calls, limit is 3", max)
	}
}

func TestProcessChunksPartialFailure(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(5)
	permanent := &Error{Kind: KindNonRetryable, Status: 400, Err: errors.New("bad audio")}
	p.failures[jobs[2].Path] = []error{permanent, permanent, permanent}

	o := testOrchestrator(p, 4)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Index != 2 {
		t.Fatalf("expected chunk 2 to fail, got %+v", res.Failed)
	}
	if len(res.Segments) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(res.Segments))
	}
	// Surviving segments stay in index order with chunk 2 absent.
	want := []string{jobs[0].Path, jobs[1].Path, jobs[3].Path, jobs[4].Path}
	for i, seg := range res.Segments {
		if seg.Text != want[i] {
			t.Errorf("segment %d: got %q, want %q", i, seg.Text, want[i])
		}
	}
}

func TestProcessChunksRetriesTransientErrors(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(1)
	transient := &Error{Kind: KindRetryable, Status: 503, Err: errors.New("overloaded")}
	p.failures[jobs[0].Path] = []error{transient, transient}

	o := testOrchestrator(p, 1)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("expected success after retries, got %+v", res.Failed)
	}
	if got := p.callCount(jobs[0].Path); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestProcessChunksExhaustsAttempts(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(1)
	transient := &Error{Kind: KindRetryable, Status: 500, Err: errors.New("boom")}
	p.failures[jobs[0].Path] = []error{transient, transient, transient, transient}

	o := testOrchestrator(p, 1)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected failure, got %+v", res)
	}
	if got := p.callCount(jobs[0].Path); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestProcessChunksNonRetryableShortCircuits(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(1)
	permanent := &Error{Kind: KindNonRetryable, Status: 401, Err: errors.New("unauthorized")}
	p.failures[jobs[0].Path] = []error{permanent}

	o := NewOrchestrator(p, Options{
		Concurrency: 1,
		// A long base delay would make this test slow if the permanent
		// error were wrongly retried.
		Retry: RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Second},
		Log:   zerolog.Nop(),
	})

	start := time.Now()
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("non-retryable error waited for backoff: %v", took)
	}
	if got := p.callCount(jobs[0].Path); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
	if len(res.Failed) != 1 || !errors.Is(res.Failed[0].Err, permanent) {
		t.Errorf("expected the permanent error, got %+v", res.Failed)
	}
}

func TestProcessChunksMaterializationError(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(2)
	jobs[1].Path = ""
	jobs[1].Err = errors.New("ffmpeg exited 1")

	o := testOrchestrator(p, 2)
	res, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Index != 1 {
		t.Fatalf("expected chunk 1 to fail, got %+v", res.Failed)
	}
	if got := p.callCount(""); got != 0 {
		t.Errorf("materialization failure should not reach the provider, got %d calls", got)
	}
}

func TestProcessChunksCancellation(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(6)
	for _, j := range jobs {
		p.delays[j.Path] = 50 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var lastDone int
	o := NewOrchestrator(p, Options{
		Concurrency: 1,
		Retry:       fastRetry(),
		Log:         zerolog.Nop(),
		Progress: func(done, total int) {
			mu.Lock()
			if done > lastDone {
				lastDone = done
			}
			mu.Unlock()
		},
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := o.ProcessChunks(ctx, jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}

	// Abandoned chunks count as terminal transitions, so progress must
	// still reach N of N.
	mu.Lock()
	if lastDone != len(jobs) {
		t.Errorf("final progress = %d, want %d", lastDone, len(jobs))
	}
	mu.Unlock()

	// Every chunk must be accounted for, completed or not.
	accounted := len(res.Failed)
	for range res.byChunk {
		accounted++
	}
	if accounted != len(jobs) {
		t.Fatalf("accounted for %d of %d chunks", accounted, len(jobs))
	}
	if len(res.Failed) == 0 {
		t.Fatal("expected abandoned chunks in Failed")
	}
	var canceled int
	for _, f := range res.Failed {
		if errors.Is(f.Err, ErrCanceled) {
			canceled++
		}
	}
	if canceled == 0 {
		t.Errorf("expected ErrCanceled failures, got %+v", res.Failed)
	}
}

func TestProcessChunksProgress(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(4)

	var mu sync.Mutex
	var reports []int
	o := NewOrchestrator(p, Options{
		Concurrency: 2,
		Retry:       fastRetry(),
		Log:         zerolog.Nop(),
		Progress: func(done, total int) {
			mu.Lock()
			reports = append(reports, done)
			mu.Unlock()
			if total != 4 {
				t.Errorf("progress total = %d, want 4", total)
			}
		},
	})
	if _, err := o.ProcessChunks(context.Background(), jobs); err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("expected 4 progress reports, got %d", len(reports))
	}
	seen := make(map[int]bool)
	for _, d := range reports {
		seen[d] = true
	}
	for d := 1; d <= 4; d++ {
		if !seen[d] {
			t.Errorf("missing progress report for done=%d", d)
		}
	}
}

func TestRetryFailedMergesResults(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(5)
	transient := &Error{Kind: KindRetryable, Status: 500, Err: errors.New("flaky")}
	// Chunk 2 fails all three attempts of the first run, then recovers.
	p.failures[jobs[2].Path] = []error{transient, transient, transient}

	o := testOrchestrator(p, 4)
	first, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	if len(first.Failed) != 1 || first.Failed[0].Index != 2 {
		t.Fatalf("expected chunk 2 failure, got %+v", first.Failed)
	}

	merged, err := o.RetryFailed(context.Background(), jobs, first)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if len(merged.Failed) != 0 {
		t.Fatalf("expected clean merge, got %+v", merged.Failed)
	}
	if len(merged.Segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(merged.Segments))
	}
	for i, seg := range merged.Segments {
		if seg.Text != jobs[i].Path {
			t.Errorf("segment %d: got %q, want %q", i, seg.Text, jobs[i].Path)
		}
	}
}

func TestRetryFailedNoFailures(t *testing.T) {
	p := newFakeProvider()
	jobs := makeJobs(2)
	o := testOrchestrator(p, 2)

	first, err := o.ProcessChunks(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessChunks: %v", err)
	}
	calls := p.callCount(jobs[0].Path) + p.callCount(jobs[1].Path)

	merged, err := o.RetryFailed(context.Background(), jobs, first)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if merged != first {
		t.Error("expected the previous result to be returned unchanged")
	}
	if after := p.callCount(jobs[0].Path) + p.callCount(jobs[1].Path); after != calls {
		t.Errorf("retry pass made %d extra calls", after-calls)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	o := NewOrchestrator(newFakeProvider(), Options{
		Retry: RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Log:   zerolog.Nop(),
	})
	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < 50; i++ {
			d := o.backoffDelay(attempt)
			base := time.Second * time.Duration(1<<uint(attempt))
			lo := base / 2
			hi := base + base/2
			if hi > 10*time.Second {
				hi = 10 * time.Second
			}
			if lo > 10*time.Second {
				lo = 10 * time.Second
			}
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}
