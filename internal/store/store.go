// Package store keeps local, ordered copies of a user's lists and of the
// items of one list in sync with a services.Backend.
//
// Every mutation is applied to the local collection immediately and then
// written to the backend. When the write fails the local change is undone and
// the failure is published on Errors(). Remote writes and their
// reconciliation run on one worker goroutine per store, in the order the
// mutations were made, so item ordinals on the backend stay dense.
//
// Mutations return an *Op that settles to a Result once the backend answered.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ytakahashi/veo-lists/internal/services"
)

// DefaultUndoWindow is how long a deleted item can be restored.
const DefaultUndoWindow = 5 * time.Second

// errorBuffer is the capacity of the Errors channel.
const errorBuffer = 32

var (
	// ErrEmptyText is returned for an empty name or item text.
	ErrEmptyText = errors.New("text must not be empty")
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Action names a store operation.
type Action string

const (
	ActionLoad    Action = "load"
	ActionRename  Action = "rename"
	ActionInsert  Action = "add"
	ActionDelete  Action = "delete"
	ActionUndo    Action = "undo delete"
	ActionSetDone Action = "complete"
)

// ErrorKind classifies why an operation failed.
type ErrorKind int

const (
	// KindNetwork covers every failure of the backend call itself.
	KindNetwork ErrorKind = iota + 1
	// KindValidation is a rejected input; nothing was sent to the backend.
	KindValidation
	// KindDecoding means the backend answered with rows of the wrong shape.
	KindDecoding
	// KindNotFound means the backend no longer has the row.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindDecoding:
		return "decoding"
	case KindNotFound:
		return "not found"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrEmptyText):
		return KindValidation
	case errors.Is(err, services.ErrDecode):
		return KindDecoding
	case errors.Is(err, services.ErrNotFound):
		return KindNotFound
	default:
		return KindNetwork
	}
}

// OpError describes a failed operation. Its message is meant for the user.
type OpError struct {
	Action Action
	Scope  string
	Kind   ErrorKind
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Action, e.Scope, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Result is what an Op settles to.
type Result struct {
	Action Action
	// ID is the id of the affected entity, empty when the op was skipped
	// before one was resolved.
	ID string
	// Skipped is set when the op addressed nothing (a stale position, an
	// expired undo, a declined confirmation) and changed nothing.
	Skipped bool
	// Err is an *OpError when the op failed.
	Err error
}

// Op is the handle of one dispatched operation.
type Op struct {
	done chan struct{}
	res  Result
}

func newOp(action Action, id string) *Op {
	return &Op{
		done: make(chan struct{}),
		res:  Result{Action: action, ID: id},
	}
}

func skippedOp(action Action) *Op {
	op := newOp(action, "")
	op.res.Skipped = true
	close(op.done)
	return op
}

func failedOp(action Action, scope string, err error) *Op {
	op := newOp(action, "")
	op.res.Err = &OpError{Action: action, Scope: scope, Kind: classify(err), Err: err}
	close(op.done)
	return op
}

func (o *Op) settle(err error) {
	o.res.Err = err
	close(o.done)
}

// Done is closed once the operation settled.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Result blocks until the operation settled and returns its result.
func (o *Op) Result() Result {
	<-o.done
	return o.res
}

// Wait blocks until the operation settled or ctx is done. The returned error
// is the result's Err or ctx's error.
func (o *Op) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.res, o.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Options configures a store.
type Options struct {
	// UndoWindow is how long a deleted item stays restorable. Zero means
	// DefaultUndoWindow, negative means forever.
	UndoWindow time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now is the clock used to stamp new lists. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.UndoWindow == 0 {
		o.UndoWindow = DefaultUndoWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// core is the part shared by ListStore and ItemStore: the lock guarding the
// local collection, the worker queue and the error feed.
type core struct {
	scope   string
	backend services.Backend
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	closed     bool
	inflight   int
	needResync bool

	q          *queue
	errs       chan *OpError
	errsClosed bool
	closeOnce  sync.Once

	// resync reloads the collection from the backend. Runs on the worker.
	resync func(ctx context.Context) error
}

func (c *core) init(scope string, backend services.Backend, opts Options) {
	opts = opts.withDefaults()
	c.scope = scope
	c.backend = backend
	c.opts = opts
	c.logger = opts.Logger.With("scope", scope)
	c.q = newQueue()
	c.errs = make(chan *OpError, errorBuffer)
}

// Errors publishes every failed backend call. The channel is closed by Close.
func (c *core) Errors() <-chan *OpError {
	return c.errs
}

func (c *core) opError(action Action, err error) *OpError {
	return &OpError{Action: action, Scope: c.scope, Kind: classify(err), Err: err}
}

// publish may run on any goroutine. Failures reported after the feed was
// closed are only logged.
func (c *core) publish(err *OpError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errsClosed {
		c.logger.Debug("error feed closed, dropping", "action", err.Action, "error", err.Err)
		return
	}
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error feed full, dropping", "action", err.Action, "error", err.Err)
	}
}

// dispatch queues the remote phase of op. It must be called with c.mu held,
// right after the optimistic phase was applied.
//
// remote runs on the worker without the lock. reconcile runs on the worker
// with the lock held and receives remote's error.
func (c *core) dispatch(ctx context.Context, op *Op, remote func(ctx context.Context) error, reconcile func(err error)) {
	ctx = context.WithoutCancel(ctx)
	c.inflight++
	c.q.push(func() {
		err := remote(ctx)

		c.mu.Lock()
		c.inflight--
		reconcile(err)
		var opErr *OpError
		if err != nil {
			opErr = c.opError(op.res.Action, err)
			if c.inflight > 0 {
				// Rollbacks of interleaved mutations can leave the order
				// different from the backend's.
				c.needResync = true
			}
		}
		resync := c.needResync && c.inflight == 0
		c.mu.Unlock()

		if resync {
			if err := c.resync(ctx); err != nil {
				c.logger.Warn("resync failed", "error", err)
			}
		}

		if opErr != nil {
			c.logger.Warn("operation failed", "action", op.res.Action, "id", op.res.ID, "error", err)
			c.publish(opErr)
			op.settle(opErr)
			return
		}
		op.settle(nil)
	})
}

// shutdown stops accepting operations, waits for queued ones and closes the
// error feed.
func (c *core) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		c.q.close()
		c.mu.Lock()
		c.errsClosed = true
		close(c.errs)
		c.mu.Unlock()
	})
}

// queue runs jobs one at a time in push order on its own goroutine.
type queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) push(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		job()
	}
}

// close stops accepting jobs and waits until the queued ones ran.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}
