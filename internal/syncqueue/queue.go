package syncqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yurug/maplume-sub000/internal/contracts"
	"github.com/yurug/maplume-sub000/pkg/models"
)

const (
	defaultRetryThreshold = 3
	defaultProbeInterval  = 30 * time.Second
)

// Handler executes one operation against the backend. A nil return
// commits the operation; a network-categorized error requeues it; any
// other error removes it and surfaces the failure.
type Handler func(ctx context.Context, op Operation) error

// Prober is the connectivity check, satisfied by the backend client.
type Prober interface {
	Probe(ctx context.Context) error
}

// Metrics receives queue health signals. The app layer feeds these
// into Prometheus; tests use a recording fake.
type Metrics interface {
	SetQueueState(state string)
	SetPendingOps(n int)
	RetryScheduled()
	FlushCompleted()
	OpCommitted()
	OpFailedFatally()
}

type Config struct {
	RetryThreshold int
	ProbeInterval  time.Duration
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithStatusListener registers a callback for queue state changes.
func WithStatusListener(fn func(models.QueueStatus)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

// WithFatalListener registers a callback for operations dropped after
// a non-retryable failure.
func WithFatalListener(fn func(Operation, error)) Option {
	return func(q *Queue) { q.onFatal = fn }
}

// Queue drains a Store strictly in order. One drain loop at a time;
// transient failures pause the head, fatal failures drop it.
type Queue struct {
	store   *Store
	handler Handler
	prober  Prober
	logger  *slog.Logger
	metrics Metrics

	retryThreshold int
	probeInterval  time.Duration

	onStatus func(models.QueueStatus)
	onFatal  func(Operation, error)

	mu        sync.Mutex
	state     string
	lastError string
	lastFlush time.Time
	draining  bool

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *Store, handler Handler, prober Prober, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:          store,
		handler:        handler,
		prober:         prober,
		logger:         slog.Default(),
		retryThreshold: cfg.RetryThreshold,
		probeInterval:  cfg.ProbeInterval,
		state:          models.QueueStateIdle,
		kick:           make(chan struct{}, 1),
	}
	if q.retryThreshold <= 0 {
		q.retryThreshold = defaultRetryThreshold
	}
	if q.probeInterval <= 0 {
		q.probeInterval = defaultProbeInterval
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the drain worker and connectivity prober. Returns
// immediately; Close (or ctx cancellation) stops both.
func (q *Queue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		cancel()
		return
	}
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(runCtx)
	}()
	// Anything recovered from the snapshot should move as soon as
	// possible.
	if q.store.Len() > 0 {
		q.requestDrain()
	}
}

// Close stops the worker and waits for it to exit. In-flight work is
// abandoned at the next context check; the snapshot keeps the rest.
func (q *Queue) Close() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
		q.wg.Wait()
	}
}

// Enqueue appends an operation and, unless offline, kicks a drain.
func (q *Queue) Enqueue(op Operation) error {
	if err := q.store.Append(op); err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	q.publishPending()
	q.mu.Lock()
	offline := q.state == models.QueueStateOffline
	q.mu.Unlock()
	if !offline {
		q.requestDrain()
	}
	return nil
}

// Flush drains synchronously until the queue empties, blocks on a
// transient failure, or ctx ends. Concurrent calls collapse into the
// already-running drain.
func (q *Queue) Flush(ctx context.Context) {
	q.drain(ctx)
}

// Kick schedules an asynchronous drain on the worker started by Start.
// No-op when nothing is pending.
func (q *Queue) Kick() {
	if q.store.Len() > 0 {
		q.requestDrain()
	}
}

// Status reports a snapshot for UIs and the RPC surface.
func (q *Queue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStatus{
		State:        q.state,
		PendingCount: q.store.Len(),
		LastError:    q.lastError,
		LastFlushAt:  q.lastFlush,
	}
}

// Clear abandons every queued operation, memory and snapshot both.
// Used on logout.
func (q *Queue) Clear() error {
	if err := q.store.Clear(); err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	q.setState(models.QueueStateIdle, "")
	q.publishPending()
	return nil
}

func (q *Queue) requestDrain() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	ticker := time.NewTicker(q.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
			q.drain(ctx)
		case <-ticker.C:
			q.probeTick(ctx)
		}
	}
}

// probeTick decides Offline vs online and resumes a stalled queue.
func (q *Queue) probeTick(ctx context.Context) {
	if q.prober == nil {
		if q.store.Len() > 0 {
			q.drain(ctx)
		}
		return
	}
	err := q.prober.Probe(ctx)
	q.mu.Lock()
	wasOffline := q.state == models.QueueStateOffline
	q.mu.Unlock()

	if err != nil {
		if !wasOffline {
			q.logger.Warn("backend unreachable, queue offline", "error", err)
		}
		q.setState(models.QueueStateOffline, err.Error())
		return
	}
	if wasOffline {
		q.logger.Info("connectivity restored, flushing queue")
		q.setState(models.QueueStateIdle, "")
	}
	if q.store.Len() > 0 {
		q.drain(ctx)
	}
}

// drain processes from the head until empty or blocked. The guard
// keeps it single-flight: concurrent callers return immediately.
func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining || q.state == models.QueueStateOffline {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	q.setState(models.QueueStateSyncing, "")

	for {
		if ctx.Err() != nil {
			return
		}
		op, ok := q.store.Peek()
		if !ok {
			q.mu.Lock()
			q.lastFlush = time.Now().UTC()
			q.mu.Unlock()
			q.setState(models.QueueStateIdle, "")
			if q.metrics != nil {
				q.metrics.FlushCompleted()
			}
			q.publishPending()
			return
		}

		err := q.handler(ctx, op)
		switch {
		case err == nil:
			q.commit(op)
		case ctx.Err() != nil:
			return
		case contracts.Retryable(err):
			if !q.handleTransient(op, err) {
				return
			}
		default:
			q.handleFatal(op, err)
		}
		q.publishPending()
	}
}

func (q *Queue) commit(op Operation) {
	if err := q.store.Remove(op.ID); err != nil {
		q.logger.Error("failed to remove committed operation", "op_id", op.ID, "error", err)
	}
	if q.metrics != nil {
		q.metrics.OpCommitted()
	}
	q.logger.Debug("operation committed", "op_id", op.ID, "type", op.Type)
}

// handleTransient bumps the retry count. Below the threshold the head
// stays put and the drain pauses; at the threshold the operation
// rotates to the tail so later work is not starved, and the drain
// continues.
func (q *Queue) handleTransient(op Operation, err error) (keepDraining bool) {
	op.RetryCount++
	if q.metrics != nil {
		q.metrics.RetryScheduled()
	}
	if op.RetryCount >= q.retryThreshold {
		q.logger.Warn("operation hit retry threshold, moving to tail",
			"op_id", op.ID, "type", op.Type, "retry_count", op.RetryCount)
		if serr := q.store.MoveToTail(op.ID); serr != nil {
			q.logger.Error("failed to requeue operation", "op_id", op.ID, "error", serr)
		}
		q.setState(models.QueueStateError, err.Error())
		return true
	}
	q.logger.Warn("operation failed, will retry",
		"op_id", op.ID, "type", op.Type, "retry_count", op.RetryCount, "error", err)
	if serr := q.store.Update(op); serr != nil {
		q.logger.Error("failed to persist retry count", "op_id", op.ID, "error", serr)
	}
	q.setState(models.QueueStateError, err.Error())
	return false
}

func (q *Queue) handleFatal(op Operation, err error) {
	q.logger.Error("operation failed fatally, dropping",
		"op_id", op.ID, "type", op.Type, "category", contracts.ErrorCategory(err), "error", err)
	if serr := q.store.Remove(op.ID); serr != nil {
		q.logger.Error("failed to remove fatal operation", "op_id", op.ID, "error", serr)
	}
	if q.metrics != nil {
		q.metrics.OpFailedFatally()
	}
	q.setState(models.QueueStateError, err.Error())
	if q.onFatal != nil {
		q.onFatal(op, err)
	}
}

func (q *Queue) setState(state, lastError string) {
	q.mu.Lock()
	changed := q.state != state || q.lastError != lastError
	q.state = state
	q.lastError = lastError
	status := models.QueueStatus{
		State:        q.state,
		PendingCount: q.store.Len(),
		LastError:    q.lastError,
		LastFlushAt:  q.lastFlush,
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueState(state)
	}
	if changed && q.onStatus != nil {
		q.onStatus(status)
	}
}

func (q *Queue) publishPending() {
	if q.metrics != nil {
		q.metrics.SetPendingOps(q.store.Len())
	}
}
