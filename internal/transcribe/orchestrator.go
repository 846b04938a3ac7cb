package transcribe

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/autosub/internal/audio"
	"github.com/snarg/autosub/internal/metrics"
)

// ChunkJob is one planned chunk plus its materialized audio file.
// A non-nil Err records a materialization failure; such jobs fail
// immediately without ever reaching the backend.
type ChunkJob struct {
	audio.Chunk
	Path string
	Err  error
}

// ChunkFailure records a chunk that exhausted its attempts or failed
// permanently.
type ChunkFailure struct {
	Index int
	Err   error
}

// Result is the terminal outcome of an orchestrator run. Every input chunk
// contributes either segments (possibly zero for silent audio) or exactly
// one failure record.
type Result struct {
	// Segments are re-based to source time and ordered by ascending
	// original chunk index, never by completion order.
	Segments []Segment

	// Language is the first non-empty language any provider reported.
	Language string

	// Failed lists chunks that reached a terminal failure, by index.
	Failed []ChunkFailure

	// byChunk retains per-chunk segment groups so a later retry pass can
	// splice its results back in by index.
	byChunk map[int][]Segment
}

// RetryConfig bounds the per-chunk retry loop.
type RetryConfig struct {
	MaxAttempts int           // total attempts per chunk, including the first
	BaseDelay   time.Duration // backoff is BaseDelay * 2^attempt with ±50% jitter
	MaxDelay    time.Duration // cap on any single computed delay
}

// DefaultRetryConfig returns the orchestrator retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ProgressFunc receives "done of total" after every terminal chunk state
// transition. It may be called from multiple goroutines.
type ProgressFunc func(done, total int)

// Options configures an Orchestrator.
type Options struct {
	Concurrency int // max in-flight backend calls; default 4
	Retry       RetryConfig
	Opts        TranscribeOpts // language/prompt applied to every chunk
	Progress    ProgressFunc
	Log         zerolog.Logger
}

// Orchestrator concurrently transcribes chunks through one shared, stateless
// provider handle under bounded parallelism.
type Orchestrator struct {
	provider Provider
	opts     Options
}

// chunkOutcome is the slot a single worker writes for its chunk; slots are
// index-disjoint across workers, so no lock is needed beyond the final
// wg.Wait barrier.
type chunkOutcome struct {
	segments []Segment
	language string
	err      error
}

// NewOrchestrator creates an orchestrator for the given provider.
func NewOrchestrator(p Provider, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = time.Second
	}
	return &Orchestrator{provider: p, opts: opts}
}

// ProcessChunks transcribes all jobs and returns once every chunk has
// reached a terminal state. Partial failures never abort sibling chunks.
// On cancellation, dispatch stops, in-flight calls wind down, and the
// returned Result accounts for every chunk: completed ones normally,
// abandoned ones as failures wrapping the context error.
func (o *Orchestrator) ProcessChunks(ctx context.Context, jobs []ChunkJob) (*Result, error) {
	if o.provider == nil {
		return nil, fmt.Errorf("orchestrator has no provider")
	}

	n := len(jobs)
	result := &Result{byChunk: make(map[int][]Segment, n)}
	if n == 0 {
		return result, nil
	}

	o.opts.Log.Info().
		Int("chunks", n).
		Int("concurrency", o.opts.Concurrency).
		Str("provider", o.provider.Name()).
		Msg("transcription started")

	outcomes := make([]chunkOutcome, n)
	jobsCh := make(chan int)

	var completed atomic.Int64
	var wg sync.WaitGroup

	workers := o.opts.Concurrency
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobsCh {
				o.processJob(ctx, jobs[pos], &outcomes[pos])
				done := int(completed.Add(1))
				if outcomes[pos].err != nil {
					metrics.ChunksTotal.WithLabelValues("failed").Inc()
				} else {
					metrics.ChunksTotal.WithLabelValues("succeeded").Inc()
				}
				if o.opts.Progress != nil {
					o.opts.Progress(done, n)
				}
			}
		}()
	}

	// Dispatch in index order; cancellation is checked between dispatches
	// and never interrupts a chunk already handed to a worker.
	undispatched := -1
	for pos := range jobs {
		select {
		case <-ctx.Done():
			undispatched = pos
		case jobsCh <- pos:
		}
		if undispatched >= 0 {
			break
		}
	}
	close(jobsCh)
	wg.Wait()

	if undispatched >= 0 {
		// Abandoned chunks still reach a terminal state; report them like
		// any other failure.
		for pos := undispatched; pos < n; pos++ {
			outcomes[pos].err = fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			done := int(completed.Add(1))
			metrics.ChunksTotal.WithLabelValues("failed").Inc()
			if o.opts.Progress != nil {
				o.opts.Progress(done, n)
			}
		}
	}

	for pos, oc := range outcomes {
		idx := jobs[pos].Index
		if oc.err != nil {
			result.Failed = append(result.Failed, ChunkFailure{Index: idx, Err: oc.err})
			continue
		}
		result.byChunk[idx] = oc.segments
		if result.Language == "" {
			result.Language = oc.language
		}
	}
	result.flatten()

	o.opts.Log.Info().
		Int("chunks", n).
		Int("failed", len(result.Failed)).
		Int("segments", len(result.Segments)).
		Msg("transcription finished")

	return result, nil
}

// RetryFailed reprocesses only the chunks that failed in a previous run and
// splices successful retries into a merged result. It is a separate,
// user-invoked pass, distinct from the per-call attempt budget inside
// ProcessChunks.
func (o *Orchestrator) RetryFailed(ctx context.Context, jobs []ChunkJob, prev *Result) (*Result, error) {
	if prev == nil || len(prev.Failed) == 0 {
		return prev, nil
	}

	failed := make(map[int]bool, len(prev.Failed))
	for _, f := range prev.Failed {
		failed[f.Index] = true
	}
	var subset []ChunkJob
	for _, j := range jobs {
		if failed[j.Index] {
			subset = append(subset, j)
		}
	}

	retried, err := o.ProcessChunks(ctx, subset)
	if err != nil {
		return nil, err
	}

	merged := &Result{
		Language: prev.Language,
		byChunk:  make(map[int][]Segment, len(prev.byChunk)+len(retried.byChunk)),
	}
	if merged.Language == "" {
		merged.Language = retried.Language
	}
	for idx, segs := range prev.byChunk {
		merged.byChunk[idx] = segs
	}
	for idx, segs := range retried.byChunk {
		merged.byChunk[idx] = segs
	}
	merged.Failed = retried.Failed
	merged.flatten()
	return merged, nil
}

// processJob drives one chunk through the Pending → InFlight →
// {Succeeded, RetryScheduled, Failed} protocol.
func (o *Orchestrator) processJob(ctx context.Context, job ChunkJob, out *chunkOutcome) {
	log := o.opts.Log.With().Int("chunk", job.Index).Logger()

	if job.Err != nil {
		log.Warn().Err(job.Err).Msg("chunk materialization failed")
		out.err = fmt.Errorf("materialize chunk %d: %w", job.Index, job.Err)
		return
	}

	opts := o.opts.Opts
	opts.ChunkDuration = job.Duration()

	var lastErr error
	for attempt := 0; attempt < o.opts.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.err = fmt.Errorf("%w: %v", ErrCanceled, err)
			return
		}

		start := time.Now()
		transcript, err := o.provider.Transcribe(ctx, job.Path, opts)
		metrics.TranscribeDuration.WithLabelValues(o.provider.Name()).Observe(time.Since(start).Seconds())

		if err == nil {
			out.segments = rebase(transcript.Segments, job.Region.Start)
			out.language = transcript.Language
			log.Debug().
				Int("segments", len(transcript.Segments)).
				Dur("took", time.Since(start)).
				Msg("chunk transcribed")
			return
		}

		lastErr = err
		if ctx.Err() != nil {
			out.err = fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			return
		}
		if !IsRetryable(err) {
			log.Warn().Err(err).Msg("chunk failed permanently")
			out.err = err
			return
		}
		if attempt == o.opts.Retry.MaxAttempts-1 {
			break
		}

		delay := o.backoffDelay(attempt)
		if hint := RetryAfterHint(err); hint > 0 {
			delay = hint
		}
		metrics.RetriesTotal.Inc()
		log.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("chunk failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.err = fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			return
		case <-timer.C:
		}
	}

	log.Warn().Err(lastErr).Int("attempts", o.opts.Retry.MaxAttempts).Msg("chunk retries exhausted")
	out.err = lastErr
}

// backoffDelay computes BaseDelay * 2^attempt with ±50% jitter, capped at
// MaxDelay, so concurrently failing chunks do not retry in lockstep.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := float64(o.opts.Retry.BaseDelay) * float64(int64(1)<<uint(attempt))
	delay += delay * (rand.Float64() - 0.5) // ±50%
	if max := float64(o.opts.Retry.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	if delay < 0 {
		delay = float64(o.opts.Retry.BaseDelay)
	}
	return time.Duration(delay)
}

// rebase shifts chunk-relative segment and word timestamps to source time.
func rebase(segments []Segment, offset time.Duration) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Start += offset
		s.End += offset
		if len(s.Words) > 0 {
			words := make([]Word, len(s.Words))
			for j, w := range s.Words {
				w.Start += offset
				w.End += offset
				words[j] = w
			}
			s.Words = words
		}
		out[i] = s
	}
	return out
}

// flatten rebuilds Segments from the per-chunk groups in index order.
func (r *Result) flatten() {
	indices := make([]int, 0, len(r.byChunk))
	for idx := range r.byChunk {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	r.Segments = r.Segments[:0]
	for _, idx := range indices {
		r.Segments = append(r.Segments, r.byChunk[idx]...)
	}
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].Index < r.Failed[j].Index })
}
