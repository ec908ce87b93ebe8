package operation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/joshuapare/hexkit/internal/logger"
	"github.com/joshuapare/hexkit/pkg/types"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Workers bounds how many operations run at once.
	Workers int

	// GracePeriod bounds how long CancelAll waits.
	GracePeriod time.Duration

	Logger *slog.Logger
}

// Manager runs operations and tracks them until they are dismissed.
type Manager struct {
	sem    *semaphore.Weighted
	grace  time.Duration
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	ops    []*Operation
	closed bool
}

// NewManager creates a manager. Zero options fall back to
// types.DefaultWorkers and types.DefaultGracePeriod.
func NewManager(opts ManagerOptions) *Manager {
	workers := opts.Workers
	if workers <= 0 {
		workers = types.DefaultWorkers
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = types.DefaultGracePeriod
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sem:    semaphore.NewWeighted(int64(workers)),
		grace:  grace,
		log:    logger.Or(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit wraps task in a new operation and schedules it.
func (m *Manager) Submit(title string, task Task) (*Operation, error) {
	op := New(title, task)
	if err := m.SubmitOperation(op); err != nil {
		return nil, err
	}
	return op, nil
}

// SubmitOperation schedules a NotStarted operation. It enters Waiting at
// once and Running when a worker is free.
func (m *Manager) SubmitOperation(op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.Errorf(types.ErrKindOperation, nil, "manager is closed")
	}
	if !op.enqueue(m.ctx, m.log) {
		return types.Errorf(types.ErrKindOperation, nil, "operation %q was already submitted", op.Title())
	}
	m.ops = append(m.ops, op)
	m.wg.Add(1)
	go m.run(op)
	m.log.Debug("operation submitted", "id", op.ID(), "title", op.Title())
	return nil
}

func (m *Manager) run(op *Operation) {
	defer m.wg.Done()
	if err := m.sem.Acquire(op.ctx, 1); err != nil {
		op.abandon()
		return
	}
	defer m.sem.Release(1)

	m.log.Debug("operation started", "id", op.ID(), "title", op.Title())
	op.run()

	snap := op.Snapshot()
	attrs := []any{"id", snap.ID, "title", snap.Title, "status", snap.Status.String(),
		"duration", snap.FinishedAt.Sub(snap.StartedAt)}
	if snap.Status == Failed {
		m.log.Warn("operation finished", append(attrs, "error", snap.Err)...)
		return
	}
	m.log.Info("operation finished", attrs...)
}

// Get returns the operation with id.
func (m *Manager) Get(id uuid.UUID) (*Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.ID() == id {
			return op, true
		}
	}
	return nil, false
}

// ActiveOperations returns snapshots of the operations that are waiting,
// running or paused, in submission order.
func (m *Manager) ActiveOperations() []Snapshot {
	return m.snapshots(func(s Status) bool { return s.Active() })
}

// Operations returns snapshots of every operation not yet dismissed.
func (m *Manager) Operations() []Snapshot {
	return m.snapshots(func(Status) bool { return true })
}

func (m *Manager) snapshots(keep func(Status) bool) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.ops))
	for _, op := range m.ops {
		if s := op.Snapshot(); keep(s.Status) {
			out = append(out, s)
		}
	}
	return out
}

// Dismiss forgets a terminal operation. It reports whether one was removed.
func (m *Manager) Dismiss(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.ops {
		if op.ID() == id && op.Status().Terminal() {
			m.ops = append(m.ops[:i], m.ops[i+1:]...)
			return true
		}
	}
	return false
}

// DismissFinished forgets every terminal operation and returns how many.
func (m *Manager) DismissFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.ops[:0]
	for _, op := range m.ops {
		if !op.Status().Terminal() {
			kept = append(kept, op)
		}
	}
	n := len(m.ops) - len(kept)
	clear(m.ops[len(kept):])
	m.ops = kept
	return n
}

// CanExit reports whether no operation is waiting, running or paused.
func (m *Manager) CanExit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.Status().Active() {
			return false
		}
	}
	return true
}

// CancelAll requests cancellation of every active operation and waits up to
// the grace period. It reports whether all of them reached a terminal state.
func (m *Manager) CancelAll() bool {
	m.mu.Lock()
	active := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if op.Status().Active() {
			active = append(active, op)
		}
	}
	m.mu.Unlock()

	for _, op := range active {
		if err := op.RequestCancel(); err != nil {
			m.log.Debug("cancel refused", "id", op.ID(), "title", op.Title(), "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.grace)
	defer cancel()
	for _, op := range active {
		if op.Wait(ctx) != nil {
			m.log.Warn("operations still active after grace period", "grace", m.grace)
			return false
		}
	}
	return true
}

// Wait blocks until every submitted operation is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	ops := append([]*Operation(nil), m.ops...)
	m.mu.Unlock()
	for _, op := range ops {
		if err := op.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close refuses new submissions, cancels what is still active and waits
// for the workers to return. It reports whether everything stopped within
// the grace period.
func (m *Manager) Close() bool {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	stopped := m.CancelAll()
	if stopped {
		m.cancel()
		m.wg.Wait()
	}
	return stopped
}
