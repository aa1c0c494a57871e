package sync

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kevinfeng77/imsgd/internal/status"
)

// degradedThreshold is how many consecutive failed polls flip the machine
// into Degraded.
const degradedThreshold = 3

// Poller drives the Engine on a fixed interval. Polls are strictly serial;
// a snapshot replacement on disk kicks an immediate extra poll instead of
// waiting out the tick.
type Poller struct {
	engine   *Engine
	machine  *status.Machine
	interval time.Duration
	log      *zap.Logger

	kick chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller. interval <= 0 falls back to 5s.
func NewPoller(engine *Engine, machine *status.Machine, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		engine:   engine,
		machine:  machine,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate poll. No-op when one is already pending.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start launches the poll loop and a watcher on the snapshot's directory.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	watcher := p.startWatcher(ctx)
	go p.loop(ctx, watcher)
}

// Stop cancels the loop and waits for the in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(p.done)
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First poll immediately rather than waiting a full interval.
	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-p.kick:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.machine.Transition(status.Polling); err != nil {
		p.log.Warn("poll state transition", zap.Error(err))
	}

	summary, err := p.engine.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failures := p.machine.RecordFailure()
		// One diagnostic per failed poll, not per row.
		p.log.Error("poll failed",
			zap.Error(err),
			zap.Int("consecutive_failures", failures))
		if failures >= degradedThreshold {
			_ = p.machine.Transition(status.Degraded)
		} else {
			_ = p.machine.Transition(status.Idle)
		}
		return
	}

	p.machine.RecordSuccess()
	_ = p.machine.Transition(status.Idle)
	if summary.RowsSeen > 0 {
		p.log.Info("poll synced",
			zap.Int("rows_seen", summary.RowsSeen),
			zap.Int("rows_synced", summary.RowsSynced),
			zap.Int("new_messages", len(summary.NewMessages)),
			zap.Int("conflicts", summary.Conflicts),
			zap.Int64("watermark", summary.Watermark),
			zap.Duration("took", summary.Duration))
	}
}

// startWatcher watches the snapshot's directory so a replaced snapshot file
// triggers a poll without waiting for the next tick. Watch failure is not
// fatal: the ticker still covers every change, just later.
func (p *Poller) startWatcher(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn("snapshot watcher unavailable", zap.Error(err))
		return nil
	}
	dir := filepath.Dir(p.engine.snapshotPath)
	if err := watcher.Add(dir); err != nil {
		p.log.Warn("snapshot watcher unavailable", zap.String("dir", dir), zap.Error(err))
		_ = watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Name == p.engine.snapshotPath &&
					evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					p.Kick()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Warn("snapshot watcher", zap.Error(err))
			}
		}
	}()
	return watcher
}
