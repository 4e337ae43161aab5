// Package controller runs the periodic loops that keep persisted run state
// consistent with the executor:
//
//   - FinishedRunController finds runs whose job ended or timed out and
//     hands them to the completion reconciler.
//   - AuditRetentionController prunes audit entries older than the
//     configured retention.
//
// A loop runs once on start and then on every tick of its interval. A failing
// or panicking tick is logged, counted and retried on the next one.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// ErrUnknownController is returned by ReconcileNow for unregistered names.
var ErrUnknownController = errors.New("unknown controller")

// Controller is one reconciliation loop.
type Controller interface {
	Name() string
	Interval() time.Duration
	// Reconcile performs one idempotent pass and returns how many items it
	// acted on.
	Reconcile(ctx context.Context) (int, error)
}

// TickTimeout is implemented by controllers whose pass needs a deadline other
// than their interval.
type TickTimeout interface {
	TickTimeout() time.Duration
}

// Metrics records loop activity.
type Metrics interface {
	RecordReconcile(controller string, itemsProcessed int, duration time.Duration, err error)
	SetControllerRunning(controller string, running bool)
	IncrementReconcileErrors(controller string)
	SetLastReconcileTime(controller string, t time.Time)
}

type noopMetrics struct{}

func (noopMetrics) RecordReconcile(string, int, time.Duration, error) {}
func (noopMetrics) SetControllerRunning(string, bool)                 {}
func (noopMetrics) IncrementReconcileErrors(string)                   {}
func (noopMetrics) SetLastReconcileTime(string, time.Time)            {}

// ManagerConfig configures the controller manager. Both fields are optional.
type ManagerConfig struct {
	Metrics Metrics
	Logger  *logger.Logger
}

// Manager owns the registered controllers and their goroutines.
type Manager struct {
	metrics Metrics
	logger  *logger.Logger

	mu          sync.Mutex
	controllers []Controller
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates a controller manager.
func NewManager(cfg *ManagerConfig) *Manager {
	m := &Manager{metrics: noopMetrics{}, logger: logger.NewNop()}
	if cfg != nil {
		if cfg.Metrics != nil {
			m.metrics = cfg.Metrics
		}
		if cfg.Logger != nil {
			m.logger = cfg.Logger
		}
	}
	m.logger = m.logger.With("component", "controller_manager")
	return m
}

// Register adds a controller. It panics once the manager is running.
func (m *Manager) Register(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		panic("controller: Register called on a running manager")
	}
	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered", "name", c.Name(), "interval", c.Interval().String())
}

// Start launches one goroutine per controller. The loops end when ctx is
// canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("controller manager already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.logger.Info("starting controllers", "count", len(m.controllers))
	for _, c := range m.controllers {
		m.wg.Add(1)
		go m.loop(ctx, c, m.stopCh)
	}
	return nil
}

// Stop signals every loop and waits for in-progress passes to return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("controllers stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context, c Controller, stop <-chan struct{}) {
	defer m.wg.Done()

	name := c.Name()
	m.metrics.SetControllerRunning(name, true)
	defer m.metrics.SetControllerRunning(name, false)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		_, _ = m.tick(ctx, c)

		select {
		case <-ctx.Done():
			m.logger.Info("controller exiting", "name", name, "reason", "context done")
			return
		case <-stop:
			m.logger.Info("controller exiting", "name", name, "reason", "manager stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick runs one bounded pass of c and records its outcome.
func (m *Manager) tick(ctx context.Context, c Controller) (int, error) {
	name := c.Name()

	timeout := c.Interval()
	if t, ok := c.(TickTimeout); ok && t.TickTimeout() > 0 {
		timeout = t.TickTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	count, err := safeReconcile(ctx, c)
	elapsed := time.Since(start)

	m.metrics.RecordReconcile(name, count, elapsed, err)
	m.metrics.SetLastReconcileTime(name, time.Now())

	switch {
	case err != nil:
		m.metrics.IncrementReconcileErrors(name)
		m.logger.Error("reconcile failed", "name", name, "duration", elapsed, "error", err)
	case count > 0:
		m.logger.Info("reconcile done", "name", name, "items", count, "duration", elapsed)
	default:
		m.logger.Debug("reconcile idle", "name", name, "duration", elapsed)
	}
	return count, err
}

func safeReconcile(ctx context.Context, c Controller) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Reconcile(ctx)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ControllerCount returns the number of registered controllers.
func (m *Manager) ControllerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

// ControllerNames returns the registered controller names in registration order.
func (m *Manager) ControllerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.controllers))
	for _, c := range m.controllers {
		names = append(names, c.Name())
	}
	return names
}

// ReconcileNow runs one pass of the named controller outside its schedule.
// The pass is recorded like a scheduled one.
func (m *Manager) ReconcileNow(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	i := slices.IndexFunc(m.controllers, func(c Controller) bool { return c.Name() == name })
	var target Controller
	if i >= 0 {
		target = m.controllers[i]
	}
	m.mu.Unlock()

	if target == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownController, name)
	}
	return m.tick(ctx, target)
}
