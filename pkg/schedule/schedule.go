// Package schedule triggers workflow executions on cron expressions or
// fixed intervals. It only decides when to fire; what a firing does is the
// StartFunc supplied by the caller, typically a Runner.Submit or
// Engine.Run closure.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// StartFunc is invoked on every firing of a schedule.
type StartFunc func(ctx context.Context, workflowID string, inputs map[string]any)

// Info is a point-in-time view of one schedule.
type Info struct {
	Name       string
	WorkflowID string
	Spec       string
	Paused     bool
	RunCount   int64
	LastRun    time.Time
	NextRun    time.Time
}

type entry struct {
	name       string
	workflowID string
	spec       string
	inputs     map[string]any
	cronID     cron.EntryID

	paused   bool
	runCount int64
	lastRun  time.Time
}

// Manager owns a set of named schedules over a single cron runner.
type Manager struct {
	cron   *cron.Cron
	start  StartFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Manager firing into start. A nil logger defaults to
// slog.Default.
func New(start StartFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cron:    cron.New(),
		start:   start,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Start begins firing schedules. It returns immediately; firings run on the
// cron runner's goroutines.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop stops firing and waits for in-flight firings to return.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

// AddCron registers a named schedule from a standard 5-field cron spec
// (descriptors like "@hourly" work too).
func (m *Manager) AddCron(name, spec, workflowID string, inputs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[name]; exists {
		return fmt.Errorf("schedule %q already exists", name)
	}

	e := &entry{name: name, workflowID: workflowID, spec: spec, inputs: inputs}
	id, err := m.cron.AddFunc(spec, func() { m.fire(e) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	e.cronID = id
	m.entries[name] = e
	return nil
}

// AddInterval registers a named schedule firing every interval (rounded
// down to whole seconds, minimum 1s).
func (m *Manager) AddInterval(name string, every time.Duration, workflowID string, inputs map[string]any) error {
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[name]; exists {
		return fmt.Errorf("schedule %q already exists", name)
	}

	e := &entry{name: name, workflowID: workflowID, spec: every.String(), inputs: inputs}
	e.cronID = m.cron.Schedule(cron.Every(every), cron.FuncJob(func() { m.fire(e) }))
	m.entries[name] = e
	return nil
}

// fire runs one schedule firing unless the entry is paused.
func (m *Manager) fire(e *entry) {
	m.mu.Lock()
	if e.paused {
		m.mu.Unlock()
		return
	}
	e.runCount++
	e.lastRun = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("schedule_fired",
		slog.String("schedule", e.name),
		slog.String("workflow", e.workflowID),
	)
	m.start(context.Background(), e.workflowID, e.inputs)
}

// Pause suspends firings of the named schedule; the cron entry stays
// registered so Resume keeps the original cadence.
func (m *Manager) Pause(name string) error {
	return m.setPaused(name, true)
}

// Resume re-enables a paused schedule.
func (m *Manager) Resume(name string) error {
	return m.setPaused(name, false)
}

func (m *Manager) setPaused(name string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("unknown schedule %q", name)
	}
	e.paused = paused
	return nil
}

// Remove unregisters the named schedule.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("unknown schedule %q", name)
	}
	m.cron.Remove(e.cronID)
	delete(m.entries, name)
	return nil
}

// Status returns the current view of the named schedule.
func (m *Manager) Status(name string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return Info{}, false
	}
	return Info{
		Name:       e.name,
		WorkflowID: e.workflowID,
		Spec:       e.spec,
		Paused:     e.paused,
		RunCount:   e.runCount,
		LastRun:    e.lastRun,
		NextRun:    m.cron.Entry(e.cronID).Next,
	}, true
}

// List returns the views of all schedules, in no particular order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if info, ok := m.Status(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}
