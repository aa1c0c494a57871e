package sync

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kevinfeng77/imsgd/internal/bus"
	"github.com/kevinfeng77/imsgd/internal/status"
	"github.com/kevinfeng77/imsgd/internal/typedstream"
)

func TestPollerSyncsOnKick(t *testing.T) {
	f := newFixture(t, nil)
	f.addRow(t, 101, 1, typedstream.EncodeString("hi"), false)

	machine := status.NewMachine(bus.New())
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}
	p := NewPoller(f.engine, machine, time.Hour, zap.NewNop())
	p.Start()
	defer p.Stop()

	// The loop polls once on start; wait for the row to land.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := f.db.MessageCount(); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, _ := f.db.MessageCount(); n != 1 {
		t.Fatalf("message count = %d, want 1 after startup poll", n)
	}

	// New row plus a kick: synced without waiting out the hour tick.
	f.addRow(t, 102, 1, typedstream.EncodeString("again"), false)
	p.Kick()
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := f.db.MessageCount(); n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("kicked poll did not sync the new row")
}

func TestPollerDegradesAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.snapshotPath = filepath.Join(t.TempDir(), "gone", "snapshot.db")

	machine := status.NewMachine(bus.New())
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}
	p := NewPoller(f.engine, machine, 10*time.Millisecond, zap.NewNop())
	p.Start()
	defer p.Stop()

	sawDegraded := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if machine.Current() == status.Degraded {
			sawDegraded = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !sawDegraded {
		t.Fatalf("state = %s, want DEGRADED after repeated poll failures", machine.Current())
	}
	if machine.Failures() < degradedThreshold {
		t.Errorf("failures = %d, want at least %d", machine.Failures(), degradedThreshold)
	}
}

func TestPollerStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	machine := status.NewMachine(bus.New())
	if err := machine.Transition(status.Idle); err != nil {
		t.Fatal(err)
	}
	p := NewPoller(f.engine, machine, time.Hour, zap.NewNop())
	p.Start()
	p.Stop()
	p.Stop() // second Stop must not block or panic
}
