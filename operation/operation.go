package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshuapare/hexkit/internal/logger"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Indeterminate is the progress of an operation that has not measured any
// work yet.
const Indeterminate = -1.0

// Task is the work an Operation runs.
type Task interface {
	Run(ctx context.Context, r Reporter) error
}

// Capabilities is implemented by tasks that cannot be paused or cancelled.
// Tasks without it support both.
type Capabilities interface {
	CanPause() bool
	CanCancel() bool
}

// Reporter is the task's view of its operation.
type Reporter interface {
	// Checkpoint enters the Paused state when a pause was requested and
	// blocks until resumed. It returns types.ErrCancelled once cancellation
	// was requested.
	Checkpoint() error

	// SetProgress records progress in [0, 1]. Lower values than the current
	// progress are ignored; Indeterminate is only kept until the first
	// measurable value.
	SetProgress(p float64)

	// SetProgressText describes the current step.
	SetProgressText(text string)

	// AddMessage records a leveled message. Messages at slog.LevelError or
	// above make the operation fail even if the task returns nil.
	AddMessage(level slog.Level, text string)

	// AddResult publishes a named result.
	AddResult(name string, v any)
}

// Message is a leveled note recorded by a task.
type Message struct {
	Level slog.Level
	Text  string
	Time  time.Time
}

// Result is a named value published by a task.
type Result struct {
	Name  string
	Value any
}

// Snapshot is a point-in-time copy of an operation's state.
type Snapshot struct {
	ID           uuid.UUID
	Title        string
	Status       Status
	Progress     float64
	ProgressText string
	Err          error
	Messages     []Message
	Results      []Result
	ErrorCount   int
	WarningCount int
	PausePending bool
	CanPause     bool
	CanCancel    bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Result returns the value of the first result named name.
func (s Snapshot) Result(name string) (any, bool) {
	for _, r := range s.Results {
		if r.Name == name {
			return r.Value, true
		}
	}
	return nil, false
}

// Operation is one run of a Task.
type Operation struct {
	id        uuid.UUID
	title     string
	task      Task
	canPause  bool
	canCancel bool
	log       *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	status    Status
	progress  float64
	text      string
	err       error
	messages  []Message
	results   []Result
	errors    int
	warnings  int
	cancelReq bool
	pauseReq  bool
	started   time.Time
	finished  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an operation in the NotStarted state.
func New(title string, task Task) *Operation {
	o := &Operation{
		id:        uuid.New(),
		title:     title,
		task:      task,
		canPause:  true,
		canCancel: true,
		log:       logger.L,
		progress:  Indeterminate,
		done:      make(chan struct{}),
		subs:      make(map[int]func(Snapshot)),
	}
	if c, ok := task.(Capabilities); ok {
		o.canPause, o.canCancel = c.CanPause(), c.CanCancel()
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *Operation) ID() uuid.UUID { return o.id }

func (o *Operation) Title() string { return o.title }

// Status returns the current state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the error of a Failed operation.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the operation reaches a terminal state.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Snapshot returns a copy of the current state.
func (o *Operation) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Operation) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           o.id,
		Title:        o.title,
		Status:       o.status,
		Progress:     o.progress,
		ProgressText: o.text,
		Err:          o.err,
		Messages:     append([]Message(nil), o.messages...),
		Results:      append([]Result(nil), o.results...),
		ErrorCount:   o.errors,
		WarningCount: o.warnings,
		PausePending: o.pauseReq && o.status == Running,
		CanPause:     o.canPause,
		CanCancel:    o.canCancel,
		StartedAt:    o.started,
		FinishedAt:   o.finished,
	}
}

// Subscribe registers fn to receive a snapshot after every state or
// progress change and returns a function that unregisters it. fn must not
// block; it runs on the goroutine making the change.
func (o *Operation) Subscribe(fn func(Snapshot)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// publish snapshots the state and delivers it. Callers hold o.mu; the
// returned function delivers after unlock.
func (o *Operation) publishLocked() func() {
	if len(o.subs) == 0 {
		return func() {}
	}
	snap := o.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(o.subs))
	for id := 0; id < o.nextSub; id++ {
		if fn, ok := o.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

// setLocked moves to status, which must be a legal transition.
func (o *Operation) setLocked(status Status) {
	if !CanTransition(o.status, status) {
		panic(fmt.Sprintf("operation: illegal transition %s -> %s", o.status, status))
	}
	o.status = status
}

// RequestPause asks a running operation to pause at its next checkpoint.
// The operation stays Running until the task reaches it.
func (o *Operation) RequestPause() error {
	o.mu.Lock()
	if !o.canPause {
		o.mu.Unlock()
		return types.Errorf(types.ErrKindOperation, nil, "operation %q cannot be paused", o.title)
	}
	if o.status != Running || o.pauseReq || o.cancelReq {
		status := o.status
		o.mu.Unlock()
		return types.Errorf(types.ErrKindOperation, nil, "cannot pause operation %q while %s", o.title, status)
	}
	o.pauseReq = true
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
	return nil
}

// RequestResume continues a paused operation or withdraws a pause request
// the task has not reached yet.
func (o *Operation) RequestResume() error {
	o.mu.Lock()
	if !o.pauseReq || (o.status != Running && o.status != Paused) {
		status := o.status
		o.mu.Unlock()
		return types.Errorf(types.ErrKindOperation, nil, "cannot resume operation %q while %s", o.title, status)
	}
	o.pauseReq = false
	if o.status == Paused {
		o.setLocked(Running)
	}
	o.cond.Broadcast()
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
	return nil
}

// RequestCancel asks the operation to stop. A waiting operation is
// cancelled at once; a running or paused one stops at its next checkpoint.
// Cancelling a terminal operation is a no-op.
func (o *Operation) RequestCancel() error {
	o.mu.Lock()
	if o.status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	if !o.canCancel {
		o.mu.Unlock()
		return types.Errorf(types.ErrKindOperation, nil, "operation %q cannot be cancelled", o.title)
	}
	o.cancelReq = true
	deliver := func() {}
	if o.status == NotStarted || o.status == Waiting {
		if o.status == NotStarted {
			o.setLocked(Waiting)
		}
		o.setLocked(Cancelled)
		o.finished = time.Now()
		close(o.done)
		deliver = o.publishLocked()
	}
	o.cond.Broadcast()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	deliver()
	return nil
}

// Wait blocks until the operation is terminal or ctx is done.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the operation on the calling goroutine and returns its
// final status. Cancelling ctx requests cancellation.
func (o *Operation) Execute(ctx context.Context) Status {
	if !o.enqueue(ctx, o.log) {
		return o.Status()
	}
	o.run()
	return o.Status()
}

// enqueue moves a NotStarted operation to Waiting under parent.
func (o *Operation) enqueue(parent context.Context, log *slog.Logger) bool {
	o.mu.Lock()
	if o.status != NotStarted {
		ok := o.status == Waiting
		o.mu.Unlock()
		return ok
	}
	o.log = log
	o.ctx, o.cancel = context.WithCancel(parent)
	o.setLocked(Waiting)
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
	return true
}

// abandon cancels a waiting operation that will never get a worker.
func (o *Operation) abandon() {
	o.mu.Lock()
	if o.status != Waiting {
		o.mu.Unlock()
		return
	}
	o.cancelReq = true
	o.setLocked(Cancelled)
	o.finished = time.Now()
	close(o.done)
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
}

func (o *Operation) run() {
	o.mu.Lock()
	if o.status != Waiting {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.setLocked(Running)
	o.started = time.Now()
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()

	stop := context.AfterFunc(ctx, func() {
		o.mu.Lock()
		o.cancelReq = true
		o.cond.Broadcast()
		o.mu.Unlock()
	})

	err := o.safeRun(ctx)
	stop()
	o.finish(err)
	o.cancel()
}

func (o *Operation) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("operation panicked", "id", o.id, "title", o.title, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.task.Run(ctx, reporter{o})
}

func (o *Operation) finish(err error) {
	o.mu.Lock()
	var status Status
	switch {
	case err != nil && isCancellation(err):
		status = Cancelled
	case err != nil:
		status = Failed
		o.err = &types.OperationError{Title: o.title, Err: err}
	case o.cancelReq:
		status = Cancelled
	case o.errors > 0:
		status = Failed
		o.err = &types.OperationError{Title: o.title, Err: errors.New(o.lastErrorLocked())}
	default:
		status = Completed
		o.progress = 1
	}
	if o.status == Paused && status != Cancelled {
		o.setLocked(Running)
	}
	o.setLocked(status)
	o.finished = time.Now()
	close(o.done)
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
}

func (o *Operation) lastErrorLocked() string {
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Level >= slog.LevelError {
			return o.messages[i].Text
		}
	}
	return "task reported errors"
}

func isCancellation(err error) bool {
	return errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled)
}

// reporter is the Reporter handed to a running task.
type reporter struct{ o *Operation }

func (r reporter) Checkpoint() error {
	o := r.o
	o.mu.Lock()
	if o.pauseReq && !o.cancelReq && o.status == Running {
		o.setLocked(Paused)
		deliver := o.publishLocked()
		o.mu.Unlock()
		deliver()
		o.mu.Lock()
	}
	for o.pauseReq && !o.cancelReq {
		o.cond.Wait()
	}
	cancelled := o.cancelReq
	o.mu.Unlock()
	if cancelled {
		return types.ErrCancelled
	}
	return nil
}

func (r reporter) SetProgress(p float64) {
	o := r.o
	o.mu.Lock()
	if p < 0 || p <= o.progress {
		o.mu.Unlock()
		return
	}
	o.progress = min(p, 1)
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
}

func (r reporter) SetProgressText(text string) {
	o := r.o
	o.mu.Lock()
	o.text = text
	deliver := o.publishLocked()
	o.mu.Unlock()
	deliver()
}

func (r reporter) AddMessage(level slog.Level, text string) {
	o := r.o
	o.mu.Lock()
	o.messages = append(o.messages, Message{Level: level, Text: text, Time: time.Now()})
	switch {
	case level >= slog.LevelError:
		o.errors++
	case level >= slog.LevelWarn:
		o.warnings++
	}
	o.mu.Unlock()
	o.log.Log(context.Background(), level, text, "operation", o.title, "id", o.id)
}

func (r reporter) AddResult(name string, v any) {
	o := r.o
	o.mu.Lock()
	o.results = append(o.results, Result{Name: name, Value: v})
	o.mu.Unlock()
}
