package worker

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/gyeh/mrf-extractor/internal/mrf"
	"github.com/gyeh/mrf-extractor/internal/progress"
	"github.com/gyeh/mrf-extractor/internal/sink"
)

// Result holds the outcome of running the extractor over one source URL.
// Concurrency lives only at this layer: each extractor instance in Run
// remains single-threaded per spec's Non-goals.
type Result struct {
	Source      string
	RowsEmitted int
	Err         error
}

// SinkFactory builds the C8 Row Sink for one source's output directory.
// Called once per URL from within its worker goroutine.
type SinkFactory func(outDir string) (sink.Sink, error)

// Pool runs one extractor instance per source URL, bounded to Workers
// concurrent goroutines via a semaphore — adapted from the teacher's
// internal/worker/pool.go, replacing its NDJSON-file pipeline with a direct
// mrf.Extract call per URL.
type Pool struct {
	Workers          int
	OutDir           string
	NPISet           map[int64]struct{}
	CodeSet          mrf.CodeSet
	UseStdGzip       bool
	EmitBundledCodes bool
	NewSink          SinkFactory
	Progress         progress.Manager
}

// Run processes all URLs concurrently, returning one Result per URL in
// input order.
func (p *Pool) Run(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	sem := make(chan struct{}, p.Workers)
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		go func(idx int, u string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Result{Source: u, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := p.Progress.NewTracker(idx, len(urls), FileNameFromURL(u))
			defer tracker.Done()

			results[idx] = p.runOne(ctx, u, idx, tracker)
		}(i, url)
	}

	wg.Wait()
	return results
}

func (p *Pool) runOne(ctx context.Context, url string, idx int, tracker progress.Tracker) Result {
	outDir := filepath.Join(p.OutDir, filepath.Base(FileNameFromURL(url)))
	s, err := p.NewSink(outDir)
	if err != nil {
		return Result{Source: url, Err: err}
	}
	defer s.Close()

	n, err := mrf.Extract(ctx, mrf.Options{
		Source:           url,
		NPISet:           p.NPISet,
		CodeSet:          p.CodeSet,
		UseStdGzip:       p.UseStdGzip,
		EmitBundledCodes: p.EmitBundledCodes,
		Callbacks: mrf.Callbacks{
			OnStageChange: tracker.SetStage,
			OnWarning:     tracker.LogWarning,
			OnItemEmitted: itemCounter(tracker),
		},
	}, s)

	return Result{Source: url, RowsEmitted: n, Err: err}
}

// itemCounter returns a closure that reports a running count of emitted
// in_network items through the tracker's generic counter slot.
func itemCounter(tracker progress.Tracker) func() {
	var n int64
	return func() {
		n++
		tracker.SetCounter("items_emitted", n)
	}
}
