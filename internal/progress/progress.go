// Package progress reports per-source extractor progress to the CLI,
// adapted from the teacher's internal/progress package: its download/split/
// parse stage model is replaced with the extractor's own state machine
// (RootBuilding, ProviderRefs, InNetworkStreaming, Done).
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker tracks progress for a single source.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	LogWarning(msg string)
	Done()
}

// Manager creates trackers for individual sources.
type Manager interface {
	NewTracker(index, total int, name string) Tracker
	Wait()
}

// MPBManager implements Manager using the mpb multi-progress-bar library.
type MPBManager struct {
	container *mpb.Progress
	mu        sync.Mutex
}

// NewMPBManager creates a new mpb-based progress manager.
func NewMPBManager() *MPBManager {
	return &MPBManager{container: mpb.New(mpb.WithWidth(60))}
}

// NewTracker creates a new progress tracker for a source.
func (m *MPBManager) NewTracker(index, total int, name string) Tracker {
	stageVal := &atomic.Value{}
	stageVal.Store("")
	detailVal := &atomic.Value{}
	detailVal.Store("")
	bar := m.container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s ", index+1, total, name), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				stage := stageVal.Load().(string)
				detail := detailVal.Load().(string)
				if detail != "" {
					return stage + "  " + detail
				}
				return stage
			}),
		),
	)

	return &mpbTracker{
		bar:       bar,
		name:      name,
		stagePtr:  stageVal,
		detailPtr: detailVal,
		mgr:       m,
	}
}

// Wait waits for all progress bars to finish.
func (m *MPBManager) Wait() {
	m.container.Wait()
}

type mpbTracker struct {
	bar       *mpb.Bar
	name      string
	stagePtr  *atomic.Value
	detailPtr *atomic.Value
	mgr       *MPBManager

	dlStart     time.Time
	dlPrevBytes int64
	dlPrevTime  time.Time
	dlSpeed     float64
}

func (t *mpbTracker) SetStage(stage string) {
	t.stagePtr.Store(stage)
	t.detailPtr.Store("")
	t.bar.SetCurrent(0)
	t.dlStart = time.Time{}
	t.dlPrevBytes = 0
	t.dlPrevTime = time.Time{}
	t.dlSpeed = 0
}

func (t *mpbTracker) SetProgress(current, total int64) {
	now := time.Now()

	if t.dlStart.IsZero() {
		t.dlStart = now
		t.dlPrevTime = now
		t.dlPrevBytes = current
	}

	speedStr := ""
	if elapsed := now.Sub(t.dlPrevTime).Seconds(); elapsed >= 0.5 {
		instantMBps := float64(current-t.dlPrevBytes) / elapsed / (1024 * 1024)
		if t.dlSpeed == 0 {
			t.dlSpeed = instantMBps
		} else {
			t.dlSpeed = 0.3*instantMBps + 0.7*t.dlSpeed
		}
		t.dlPrevBytes = current
		t.dlPrevTime = now
	}
	if t.dlSpeed > 0 {
		speedStr = fmt.Sprintf("  %.1f MB/s", t.dlSpeed)
	}

	if total > 0 {
		pct := int64(float64(current) / float64(total) * 100)
		t.bar.SetTotal(100, false)
		t.bar.SetCurrent(pct)
		t.detailPtr.Store(fmt.Sprintf("%s / %s%s", humanBytes(current), humanBytes(total), speedStr))
	} else if current > 0 {
		t.detailPtr.Store(fmt.Sprintf("%s%s", humanBytes(current), speedStr))
	}
}

func (t *mpbTracker) SetCounter(name string, value int64) {
	t.detailPtr.Store(fmt.Sprintf("%s: %s", name, humanCount(value)))
}

func (t *mpbTracker) LogWarning(msg string) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	logBar := t.mgr.container.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("  [%s] %s", t.name, msg)),
		),
	)
	logBar.Abort(false)
}

func (t *mpbTracker) Done() {
	t.bar.SetTotal(100, false)
	t.bar.SetCurrent(100)
	t.bar.Abort(false)
}

// NoopManager is a bar-free progress manager for non-interactive use: its
// trackers print stage changes and warnings as plain lines to stdout and
// discard progress and counter updates.
type NoopManager struct{}

func (m *NoopManager) NewTracker(index, total int, name string) Tracker {
	return &noopTracker{name: name}
}

func (m *NoopManager) Wait() {}

type noopTracker struct {
	name string
}

func (t *noopTracker) SetStage(stage string) {
	fmt.Printf("  [%s] %s\n", t.name, stage)
}

func (t *noopTracker) SetProgress(current, total int64)   {}
func (t *noopTracker) SetCounter(name string, value int64) {}
func (t *noopTracker) LogWarning(msg string) {
	fmt.Printf("  [%s] WARN: %s\n", t.name, msg)
}
func (t *noopTracker) Done() {}

// humanBytes formats a byte count as a human-readable string (e.g. "1.5 GB").
func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// humanCount formats a number with comma separators (e.g. "1,234,567").
func humanCount(n int64) string {
	if n < 0 {
		return "-" + humanCount(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return humanCount(n/1000) + fmt.Sprintf(",%03d", n%1000)
}
