// Package lifecycle sequences the relaydemo process's subsystems: a session
// store that must open before anything else, and a readline prompt that
// depends on it. It guarantees dependency-respecting start order and the
// exact reverse order on shutdown, with a single shared context whose
// cancellation every step observes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"relaycore/internal/infra/logger"
)

// StartFunc starts a step. An error marks it failed and aborts its start.
type StartFunc func(ctx context.Context) error

// StopFunc stops a step. By the time it is called the manager's shared
// context has already been cancelled, so the implementation should wind down
// background work and release resources rather than watch for cancellation
// itself.
type StopFunc func(ctx context.Context) error

type stepStatus int

const (
	statusRegistered stepStatus = iota
	statusStarting
	statusRunning
	statusStopped
	statusFailed
)

type step struct {
	name string
	deps []string

	start StartFunc
	stop  StopFunc

	status stepStatus
	err    error
}

// Manager sequences a set of named steps by their declared dependencies and
// guarantees shutdown happens in the exact reverse of actual start order.
// Safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	steps      map[string]*step
	startOrder []string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a manager whose steps all share ctx (or context.Background()
// if ctx is nil) until Shutdown cancels it.
func New(ctx context.Context) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		steps:  make(map[string]*step),
		ctx:    runCtx,
		cancel: cancel,
	}
}

// Register adds a step named name, depending on deps (which must already be
// registered or registered before StartAll runs). Duplicate deps are
// ignored; a step cannot depend on itself.
func (m *Manager) Register(name string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: step name must not be empty")
	}

	uniqueDeps := slices.Compact(slices.Clone(deps))
	if slices.Contains(uniqueDeps, name) {
		return fmt.Errorf("lifecycle: step %q cannot depend on itself", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.steps[name]; exists {
		return fmt.Errorf("lifecycle: step %q already registered", name)
	}
	m.steps[name] = &step{name: name, deps: uniqueDeps, start: start, stop: stop}
	return nil
}

// StartAll starts every registered step, honoring dependencies. Iteration
// order over independent steps is deterministic (names sorted
// alphabetically); actual start order reflects the recursive dependency
// starts. Returns a joined error if any step failed, and leaves whatever did
// start running — call Shutdown to unwind it.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.steps))
	for name := range m.steps {
		names = append(names, name)
	}
	m.mu.Unlock()
	slices.Sort(names)

	var errs error
	for _, name := range names {
		if err := m.startStep(name); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	logger.Debugf("lifecycle start order: %v", m.startOrder)
	return errs
}

// startStep recursively starts a step's dependencies before the step itself.
// Re-entering a step already Starting means a dependency cycle.
func (m *Manager) startStep(name string) error {
	m.mu.Lock()
	s, exists := m.steps[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: step %q not registered", name)
	}
	switch s.status { //nolint:exhaustive // only these two short-circuit here
	case statusRunning:
		m.mu.Unlock()
		return nil
	case statusStarting:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: detected cycle while starting %q", name)
	}
	s.status = statusStarting
	deps := s.deps
	m.mu.Unlock()

	logger.Debugf("starting step %s", name)

	for _, dep := range deps {
		if err := m.startStep(dep); err != nil {
			m.setFailed(name, err)
			return fmt.Errorf("lifecycle: start %q: dependency %q: %w", name, dep, err)
		}
	}

	if s.start != nil {
		if err := s.start(m.ctx); err != nil {
			m.setFailed(name, err)
			logger.Errorf("failed to start step %s: %v", name, err)
			return fmt.Errorf("lifecycle: start %q: %w", name, err)
		}
	}

	m.mu.Lock()
	s.status = statusRunning
	s.err = nil
	if !slices.Contains(m.startOrder, name) {
		m.startOrder = append(m.startOrder, name)
	}
	m.mu.Unlock()

	logger.Debugf("step %s is running", name)
	return nil
}

// Shutdown cancels the manager's shared context, then stops every running
// step in the exact reverse of its actual start order. Returns a joined
// error if any stop hook failed. Safe to call once; later calls are no-ops
// since every step is already Stopped or Failed.
func (m *Manager) Shutdown() error {
	m.cancel()

	m.mu.Lock()
	order := append([]string(nil), m.startOrder...)
	m.mu.Unlock()
	logger.Debugf("shutdown order: %v", order)

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := m.stopStep(name); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *Manager) stopStep(name string) error {
	m.mu.Lock()
	s, exists := m.steps[name]
	if !exists || s.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	stopFn := s.stop
	m.mu.Unlock()

	logger.Debugf("stopping step %s", name)

	var err error
	if stopFn != nil {
		err = stopFn(m.ctx)
	}

	m.mu.Lock()
	if err != nil {
		s.status = statusFailed
		s.err = err
	} else {
		s.status = statusStopped
		s.err = nil
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("step %s stopped with error: %v", name, err)
		return fmt.Errorf("lifecycle: stop %q: %w", name, err)
	}
	logger.Debugf("step %s stopped", name)
	return nil
}

func (m *Manager) setFailed(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.steps[name]; ok {
		s.status = statusFailed
		s.err = err
	}
}
