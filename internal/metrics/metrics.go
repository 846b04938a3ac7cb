// Package metrics exposes Prometheus instrumentation for the transcription
// pipeline, with an optional HTTP listener for long batch runs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autosub"

// Pipeline counters (incremented by the orchestrator and pipeline stages).
var (
	ChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Chunks that reached a terminal state, by outcome.",
	}, []string{"status"}) // "succeeded", "failed"

	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_retries_total",
		Help:      "Backend calls retried after a retryable failure.",
	})

	TranscribeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcribe_duration_seconds",
		Help:      "Wall time of individual backend calls.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms → ~2m
	}, []string{"provider"})

	SpeechRegionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "speech_regions_total",
		Help:      "Speech regions produced by the VAD.",
	})
)

func init() {
	prometheus.MustRegister(
		ChunksTotal,
		RetriesTotal,
		TranscribeDuration,
		SpeechRegionsTotal,
	)
}

// Serve runs a metrics listener on addr with /metrics and /healthz until
// the context is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
