package pool

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodeswarm-go/taskpool/internal/config"
)

// Pool is the scheduler: the priority-aware queue, worker lifecycle
// management, per-job timeout/cancellation coordination, shutdown, and
// the metrics that observe all of it. Every field below is touched from
// exactly one goroutine — run — except where a field is itself a channel
// or an atomic used deliberately to cross that boundary.
type Pool struct {
	cfg       config.PoolConfig
	runtime   WorkerRuntime
	validator *validator
	metrics   *metricsRecorder
	log       *zap.SugaredLogger

	historyRecorder HistoryRecorder

	ctx    context.Context
	cancel context.CancelFunc

	workers []*workerHandle
	queue   *priorityQueue
	inflight int

	closing         bool
	drained         bool
	shutdownWaiters []chan struct{}

	healthTicker   *time.Ticker
	restartBackoff *backoff.ExponentialBackOff

	submitCh    chan *job
	events      chan WorkerEvent
	timeoutCh   chan *job
	cancelCh    chan *job
	closeCh     chan chan struct{}
	terminateCh chan struct{}
	respawnCh   chan int
	metricsCh   chan chan MetricsSnapshot
	resetCh     chan struct{}
	sizeCh      chan chan int

	runDone chan struct{}

	// closed is read from any goroutine via Submit's fast path; every
	// other field above is run-loop-only.
	closed atomic.Bool
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithHistoryRecorder wires an audit sink that receives a JobRecord for
// every terminated Job. See internal/history for the DuckDB-backed
// implementation.
func WithHistoryRecorder(r HistoryRecorder) Option {
	return func(p *Pool) { p.historyRecorder = r }
}

// New constructs a Pool backed by rt, starts its initial workers, and
// launches the run loop. cfg.PoolSize <= 0 means "use host parallelism".
func New(cfg config.PoolConfig, rt WorkerRuntime, opts ...Option) *Pool {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = goruntime.GOMAXPROCS(0)
	}
	if cfg.MinPoolSize > 0 && poolSize < cfg.MinPoolSize {
		poolSize = cfg.MinPoolSize
	}
	if cfg.MaxPoolSize > 0 && poolSize > cfg.MaxPoolSize {
		poolSize = cfg.MaxPoolSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	restartBackoff := backoff.NewExponentialBackOff()
	restartBackoff.InitialInterval = 50 * time.Millisecond
	restartBackoff.MaxInterval = 5 * time.Second

	p := &Pool{
		cfg:       cfg,
		runtime:   rt,
		validator: newValidator(cfg.StrictMode),
		metrics:   newMetricsRecorder(time.Now()),
		log:       zap.S().Named("pool"),

		ctx:    ctx,
		cancel: cancel,
		queue:  newPriorityQueue(),

		restartBackoff: restartBackoff,

		submitCh:    make(chan *job),
		events:      make(chan WorkerEvent, poolSize*2+8),
		timeoutCh:   make(chan *job),
		cancelCh:    make(chan *job),
		closeCh:     make(chan chan struct{}),
		terminateCh: make(chan struct{}),
		respawnCh:   make(chan int),
		metricsCh:   make(chan chan MetricsSnapshot),
		resetCh:     make(chan struct{}),
		sizeCh:      make(chan chan int),
		runDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < poolSize; i++ {
		p.addWorker()
	}

	go p.run()
	return p
}

// Submit enqueues taskName/args for execution and returns immediately
// with a Future. Validation, a closing pool, and an already-triggered
// cancel handle are all surfaced through the Future, never as a
// synchronous error return — matching the propagation policy that every
// submission-time failure reaches the caller through the same channel a
// worker failure would.
func (p *Pool) Submit(opts SubmitOptions, taskName string, args ...any) *Future {
	id := uuid.New()
	c := make(chan Outcome, 1)

	priority := PriorityNormal
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	j := &job{
		id:         id,
		taskName:   taskName,
		args:       args,
		priority:   priority,
		timeout:    opts.Timeout,
		cancelCtx:  opts.Cancel,
		done:       c,
		enqueuedAt: time.Now(),
	}

	reject := func(err error) *Future {
		p.recordHistory(j, err)
		c <- Outcome{Err: err}
		return newFuture(id, c, func() {})
	}

	if p.closed.Load() {
		return reject(NewClosingError())
	}
	if verr := p.validator.validate(taskName, opts.Description, args); verr != nil {
		return reject(verr)
	}
	if opts.Cancel != nil && opts.Cancel.Err() != nil {
		return reject(NewCancelledError(taskName))
	}

	if j.cancelCtx != nil {
		p.watchCancel(j)
	}
	stop := func() {
		select {
		case p.cancelCh <- j:
		case <-p.runDone:
		}
	}

	select {
	case p.submitCh <- j:
	case <-p.runDone:
		if j.cancelStop != nil {
			j.cancelStop()
		}
		return reject(NewClosingError())
	}

	return newFuture(id, c, stop)
}

// watchCancel starts the goroutine that observes j's cancel context for
// the job's entire lifetime (queued or bound) and reports cancellation to
// the run loop. j.cancelStop tears the goroutine down on any completion
// path and is safe to call more than once.
func (p *Pool) watchCancel(j *job) {
	stopped := make(chan struct{})
	var once sync.Once
	j.cancelStop = func() {
		once.Do(func() { close(stopped) })
	}

	go func() {
		select {
		case <-j.cancelCtx.Done():
			select {
			case p.cancelCh <- j:
			case <-stopped:
			case <-p.runDone:
			}
		case <-stopped:
		}
	}()
}

// GetMetrics returns a consistent point-in-time snapshot.
func (p *Pool) GetMetrics() MetricsSnapshot {
	reply := make(chan MetricsSnapshot, 1)
	select {
	case p.metricsCh <- reply:
		return <-reply
	case <-p.runDone:
		return MetricsSnapshot{}
	}
}

// ResetMetrics zeroes every monotonic counter and rebases uptime.
func (p *Pool) ResetMetrics() {
	select {
	case p.resetCh <- struct{}{}:
	case <-p.runDone:
	}
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	reply := make(chan int, 1)
	select {
	case p.sizeCh <- reply:
		return <-reply
	case <-p.runDone:
		return 0
	}
}

// Close begins a graceful shutdown: no new submissions are accepted, but
// queued and in-flight jobs are allowed to drain before workers are torn
// down. The returned channel closes once the drain completes (it is
// closed immediately, with no drain, if the pool was already idle or
// already stopped). Close is safe to call more than once.
func (p *Pool) Close() <-chan struct{} {
	p.closed.Store(true)
	reply := make(chan struct{})
	go func() {
		select {
		case p.closeCh <- reply:
		case <-p.runDone:
			close(reply)
		}
	}()
	return reply
}

// Terminate forcibly tears down every worker and clears the queue,
// without waiting for anything in flight to finish. In-flight futures
// are left unresolved, exactly as spec'd — a torn-down worker posts no
// further event. Terminate is idempotent and safe during or after Close.
func (p *Pool) Terminate() {
	p.closed.Store(true)
	select {
	case p.terminateCh <- struct{}{}:
		<-p.runDone
	case <-p.runDone:
	}
}

// run is the pool's single serialisation domain: every mutation of
// workers, queue, shutdownWaiters, closing, and inflight happens here,
// one event at a time.
func (p *Pool) run() {
	defer close(p.runDone)
	p.healthTicker = time.NewTicker(p.cfg.HealthCheckInterval)
	defer p.healthTicker.Stop()

	for {
		select {
		case j := <-p.submitCh:
			p.handleSubmit(j)
		case ev := <-p.events:
			p.handleEvent(ev)
		case j := <-p.timeoutCh:
			p.handleTimeout(j)
		case j := <-p.cancelCh:
			p.handleCancel(j)
		case reply := <-p.closeCh:
			p.handleClose(reply)
		case <-p.terminateCh:
			p.handleTerminate()
			return
		case idx := <-p.respawnCh:
			p.handleRespawn(idx)
		case reply := <-p.metricsCh:
			reply <- p.metrics.snapshot(time.Now(), p.inflight, p.queue.length(), len(p.workers))
		case <-p.resetCh:
			p.metrics.reset(time.Now())
		case reply := <-p.sizeCh:
			reply <- len(p.workers)
		case <-p.healthTicker.C:
			p.runHealthCheck()
		}

		if p.drained {
			return
		}
	}
}

func (p *Pool) handleSubmit(j *job) {
	if p.closing {
		if j.cancelStop != nil {
			j.cancelStop()
		}
		p.recordHistory(j, NewClosingError())
		j.done <- Outcome{Err: NewClosingError()}
		return
	}
	p.dispatch(j)
}

// dispatch implements spec §4.4: bind to an idle worker if one exists,
// otherwise enqueue and consider scaling up.
func (p *Pool) dispatch(j *job) {
	if w := p.idleHealthyWorker(); w != nil {
		p.startJob(j, w)
		return
	}
	p.queue.enqueue(j)
	p.autoscaleOnEnqueue()
}

func (p *Pool) idleHealthyWorker() *workerHandle {
	for _, w := range p.workers {
		if w.idle() && w.isHealthy {
			return w
		}
	}
	return nil
}

func (p *Pool) autoscaleOnEnqueue() {
	if !p.cfg.AutoScale {
		return
	}
	if p.queue.length() < p.cfg.ScaleUpThreshold {
		return
	}
	if len(p.workers) >= p.cfg.MaxPoolSize {
		return
	}
	p.addWorker()
	p.pump()
}

func (p *Pool) addWorker() *workerHandle {
	w := spawnWorker(p.ctx, p.runtime, p.events)
	p.workers = append(p.workers, w)
	return w
}

// startJob stamps startTime, binds the job, arms its timeout if any, and
// sends the request envelope — spec §4.4 "Starting a job on a worker".
func (p *Pool) startJob(j *job, w *workerHandle) {
	j.startedAt = time.Now()
	j.worker = w
	w.job = j
	p.inflight++

	if j.timeout > 0 {
		jobRef := j
		j.timeoutTimer = time.AfterFunc(j.timeout, func() {
			select {
			case p.timeoutCh <- jobRef:
			case <-p.runDone:
			}
		})
	}

	w.send(Request{TaskName: j.taskName, Args: j.args})
}

// pump drains as many queued jobs onto idle healthy workers as possible.
func (p *Pool) pump() {
	for {
		w := p.idleHealthyWorker()
		if w == nil {
			return
		}
		j := p.queue.dequeue()
		if j == nil {
			return
		}
		p.startJob(j, w)
	}
}

func (p *Pool) handleEvent(ev WorkerEvent) {
	w := p.workerByID(ev.WorkerID)
	if w == nil {
		// stale event from an already-replaced worker.
		return
	}
	switch ev.Kind {
	case WorkerCompleted:
		p.handleCompletion(w, ev.Response)
	case WorkerCrashed:
		p.handleCrash(w, ev.Cause)
	case WorkerExited:
		p.handleExit(w, ev.ExitCode)
	}
}

func (p *Pool) workerByID(id uuid.UUID) *workerHandle {
	for _, w := range p.workers {
		if w.id == id {
			return w
		}
	}
	return nil
}

func (p *Pool) workerIndex(w *workerHandle) int {
	for i, candidate := range p.workers {
		if candidate == w {
			return i
		}
	}
	return -1
}

// handleCompletion is the normal completion path, spec §4.4.
func (p *Pool) handleCompletion(w *workerHandle, resp Response) {
	j := w.job
	if j == nil {
		return
	}
	w.lastHeartbeat = time.Now()
	w.failureCount = 0

	var outcome Outcome
	if resp.Err != nil {
		outcome = Outcome{Err: NewUserError(resp.Err.Kind, resp.Err.Message, resp.Err.Trace)}
	} else {
		outcome = Outcome{Value: resp.Result}
	}

	p.completeJob(j, outcome)
	p.pump()
	p.maybeSignalDrain()
}

// handleTimeout is triggered by a job's armed timer firing.
func (p *Pool) handleTimeout(j *job) {
	if j.worker == nil {
		// already resolved via another path; stale timer fire.
		return
	}
	w := j.worker
	p.completeJob(j, Outcome{Err: NewTimeoutError(j.taskName, j.timeout.String())})
	p.restartWorker(w, "timeout")
	p.pump()
	p.maybeSignalDrain()
}

// handleCancel is triggered by a job's cancel handle firing, whether the
// job is still queued (eager removal) or already bound to a worker.
func (p *Pool) handleCancel(j *job) {
	if j.worker == nil {
		if p.queue.remove(j) {
			p.completeJob(j, Outcome{Err: NewCancelledError(j.taskName)})
			p.maybeSignalDrain()
		}
		return
	}
	w := j.worker
	p.completeJob(j, Outcome{Err: NewCancelledError(j.taskName)})
	p.restartWorker(w, "cancelled")
	p.pump()
	p.maybeSignalDrain()
}

// handleCrash is the worker crash/error event path. A worker already
// mid-restart (isHealthy false, or restarting already set by an earlier
// call on this same handle) is a stale event: its goroutine kept running
// after a prior timeout/cancel/stall eviction and only now noticed its
// context was cancelled, or posted a second failure before that. Acting
// on it again would double-count the restart and schedule a second
// respawn that clobbers the first replacement without terminating it.
func (p *Pool) handleCrash(w *workerHandle, cause error) {
	if !w.isHealthy || w.restarting {
		return
	}
	w.failureCount++
	w.isHealthy = false

	if j := w.job; j != nil {
		p.completeJob(j, Outcome{Err: NewWorkerCrashError(cause)})
	}
	p.restartWorker(w, "crash")
	p.pump()
	p.maybeSignalDrain()
}

// handleExit is the worker exit event path: a zero exit code, or any exit
// while the pool is already closing, is not an error.
func (p *Pool) handleExit(w *workerHandle, exitCode int) {
	if exitCode == 0 || p.closing {
		return
	}
	p.handleCrash(w, fmt.Errorf("worker exited with code %d", exitCode))
}

// completeJob is the single path that resolves a job's future, so every
// job satisfies the exactly-once completion invariant regardless of
// which path reached it.
func (p *Pool) completeJob(j *job, outcome Outcome) {
	if j.timeoutTimer != nil {
		j.timeoutTimer.Stop()
		j.timeoutTimer = nil
	}
	if j.cancelStop != nil {
		j.cancelStop()
		j.cancelStop = nil
	}
	if j.worker != nil {
		j.worker.job = nil
		j.worker = nil
		p.inflight--
	}

	if outcome.Err != nil {
		p.metrics.recordFailure()
	} else {
		p.metrics.recordCompletion(time.Since(j.startedAt))
		p.restartBackoff.Reset()
	}

	p.recordHistory(j, outcome.Err)
	j.done <- outcome
}

func (p *Pool) recordHistory(j *job, err error) {
	if p.historyRecorder == nil {
		return
	}
	status, kind := classifyOutcome(err)
	rec := JobRecord{
		ID:         j.id,
		TaskName:   j.taskName,
		Priority:   j.priority,
		EnqueuedAt: j.enqueuedAt,
		StartedAt:  j.startedAt,
		FinishedAt: time.Now(),
		Outcome:    status,
		ErrorKind:  kind,
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	go p.historyRecorder.Record(rec)
}

// restartWorker terminates w and schedules its in-place replacement after
// a backoff delay, so a tight crash loop doesn't spin-respawn. The slot
// at w's index stays occupied (unhealthy, idle) in the meantime, keeping
// len(workers) constant throughout — the pool's size invariant never
// dips during a restart. Guarded by w.restarting so a second trigger for
// the same handle (see handleCrash) can never schedule a second respawn
// goroutine for the same slot.
func (p *Pool) restartWorker(w *workerHandle, reason string) {
	if w.restarting {
		return
	}
	idx := p.workerIndex(w)
	if idx < 0 {
		return
	}
	w.restarting = true
	w.terminate()
	w.isHealthy = false
	w.job = nil
	p.metrics.recordRestart()
	p.log.Warnw("worker restarting", "workerId", w.id, "reason", reason, "failureCount", w.failureCount)

	delay := p.restartBackoff.NextBackOff()

	go func(idx int) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-p.runDone:
				return
			}
		}
		select {
		case p.respawnCh <- idx:
		case <-p.runDone:
		}
	}(idx)
}

func (p *Pool) handleRespawn(idx int) {
	if p.closing || idx < 0 || idx >= len(p.workers) {
		return
	}
	p.workers[idx] = spawnWorker(p.ctx, p.runtime, p.events)
	p.pump()
}

// runHealthCheck evicts any worker whose bound job has gone silent for
// longer than MaxInactivity, re-queuing the job at the front of its
// priority band (see SPEC_FULL.md §9's resolution of the re-queue-position
// open question) rather than losing its place behind fresh arrivals.
func (p *Pool) runHealthCheck() {
	now := time.Now()
	for _, w := range p.workers {
		j := w.job
		if j == nil {
			continue
		}
		if now.Sub(w.lastHeartbeat) <= p.cfg.MaxInactivity {
			continue
		}

		p.log.Warnw("worker stalled, evicting", "workerId", w.id, "taskName", j.taskName,
			"inactivity", now.Sub(w.lastHeartbeat).String())

		if j.timeoutTimer != nil {
			j.timeoutTimer.Stop()
			j.timeoutTimer = nil
		}
		w.job = nil
		j.worker = nil
		p.inflight--
		p.queue.enqueueFront(j)

		p.restartWorker(w, "stalled")
	}
	p.pump()
	p.maybeSignalDrain()
}

func (p *Pool) handleClose(reply chan struct{}) {
	p.closing = true
	p.shutdownWaiters = append(p.shutdownWaiters, reply)
	p.maybeSignalDrain()
}

// maybeSignalDrain signals every parked Close() waiter and tears down
// the pool the moment it is both closing and fully drained. It must be
// called after every state transition that could cause drain.
func (p *Pool) maybeSignalDrain() {
	if !p.closing || len(p.shutdownWaiters) == 0 {
		return
	}
	if !p.queue.isEmpty() || p.inflight > 0 {
		return
	}

	for _, w := range p.shutdownWaiters {
		close(w)
	}
	p.shutdownWaiters = nil
	p.healthTicker.Stop()
	p.cancel()
	p.drained = true
}

func (p *Pool) handleTerminate() {
	p.closing = true
	p.healthTicker.Stop()
	p.queue.clear()
	p.cancel()

	for _, w := range p.shutdownWaiters {
		close(w)
	}
	p.shutdownWaiters = nil
}
