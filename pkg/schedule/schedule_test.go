package schedule

import (
	"context"
	"sync"
	"testing"
	"time"
)

type firingLog struct {
	mu      sync.Mutex
	firings []string
}

func (f *firingLog) start(ctx context.Context, workflowID string, inputs map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firings = append(f.firings, workflowID)
}

func (f *firingLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.firings)
}

func TestManager_AddCron(t *testing.T) {
	t.Parallel()

	log := &firingLog{}
	m := New(log.start, nil)

	if err := m.AddCron("nightly", "0 3 * * *", "backup", nil); err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}
	if err := m.AddCron("nightly", "0 4 * * *", "backup", nil); err == nil {
		t.Fatal("expected error for duplicate schedule name")
	}
	if err := m.AddCron("broken", "not a spec", "backup", nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}

	info, ok := m.Status("nightly")
	if !ok {
		t.Fatal("Status returned not found")
	}
	if info.WorkflowID != "backup" || info.Spec != "0 3 * * *" {
		t.Fatalf("info = %+v", info)
	}
	if info.Paused || info.RunCount != 0 {
		t.Fatalf("fresh schedule state: %+v", info)
	}
}

func TestManager_AddInterval(t *testing.T) {
	t.Parallel()

	m := New((&firingLog{}).start, nil)

	if err := m.AddInterval("tick", 0, "wf", nil); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
	if err := m.AddInterval("tick", time.Minute, "wf", nil); err != nil {
		t.Fatalf("AddInterval failed: %v", err)
	}
	if err := m.AddInterval("tick", time.Minute, "wf", nil); err == nil {
		t.Fatal("expected error for duplicate schedule name")
	}
}

// fire is exercised directly so the test does not wait for cron's
// second-granularity ticks.
func TestManager_FireAndPause(t *testing.T) {
	t.Parallel()

	log := &firingLog{}
	m := New(log.start, nil)
	if err := m.AddCron("hourly", "@hourly", "report", map[string]any{"depth": 1}); err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}

	m.mu.Lock()
	e := m.entries["hourly"]
	m.mu.Unlock()

	m.fire(e)
	m.fire(e)
	if log.count() != 2 {
		t.Fatalf("firings = %d, want 2", log.count())
	}

	info, _ := m.Status("hourly")
	if info.RunCount != 2 {
		t.Fatalf("RunCount = %d, want 2", info.RunCount)
	}
	if info.LastRun.IsZero() {
		t.Fatal("LastRun not recorded")
	}

	if err := m.Pause("hourly"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	m.fire(e)
	if log.count() != 2 {
		t.Fatal("paused schedule fired")
	}

	if err := m.Resume("hourly"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	m.fire(e)
	if log.count() != 3 {
		t.Fatal("resumed schedule did not fire")
	}

	if err := m.Pause("ghost"); err == nil {
		t.Fatal("expected error for unknown schedule")
	}
}

func TestManager_Remove(t *testing.T) {
	t.Parallel()

	m := New((&firingLog{}).start, nil)
	if err := m.AddCron("a", "@daily", "wf", nil); err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}
	if err := m.AddInterval("b", time.Hour, "wf", nil); err != nil {
		t.Fatalf("AddInterval failed: %v", err)
	}
	if got := len(m.List()); got != 2 {
		t.Fatalf("List = %d entries, want 2", got)
	}

	if err := m.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := m.Status("a"); ok {
		t.Fatal("removed schedule still visible")
	}
	if err := m.Remove("a"); err == nil {
		t.Fatal("expected error removing unknown schedule")
	}
	if got := len(m.List()); got != 1 {
		t.Fatalf("List = %d entries, want 1", got)
	}
}

func TestManager_IntervalFires(t *testing.T) {
	t.Parallel()

	log := &firingLog{}
	m := New(log.start, nil)
	if err := m.AddInterval("fast", time.Second, "wf", nil); err != nil {
		t.Fatalf("AddInterval failed: %v", err)
	}

	m.Start()
	defer m.Stop()

	deadline := time.After(3 * time.Second)
	for log.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("interval schedule never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	info, _ := m.Status("fast")
	if info.NextRun.IsZero() {
		t.Fatal("NextRun not populated while running")
	}
}
