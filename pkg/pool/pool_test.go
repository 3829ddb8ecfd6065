package pool_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nodeswarm-go/taskpool/internal/config"
	"github.com/nodeswarm-go/taskpool/internal/jobregistry"
	"github.com/nodeswarm-go/taskpool/internal/workerproc"
	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

// busyWait spins for d, checking ctx between iterations, modelling
// CPU-bound work that cannot be preempted mid-computation.
func busyWait(d time.Duration) jobregistry.Func {
	return func(ctx context.Context, args []any) (any, error) {
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		return nil, nil
	}
}

func newPool(cfg config.PoolConfig, reg *jobregistry.Registry) *pool.Pool {
	return pool.New(cfg, workerproc.New(reg))
}

func defaultConfig(poolSize int) config.PoolConfig {
	cfg, err := config.NewPoolConfig(
		config.WithPoolSize(poolSize),
		config.WithMinPoolSize(1),
		config.WithMaxPoolSize(64),
		config.WithHealthCheckInterval(50*time.Millisecond),
		config.WithMaxInactivity(10*time.Second),
	)
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

var _ = Describe("Pool", func() {
	var p *pool.Pool
	var reg *jobregistry.Registry

	BeforeEach(func() {
		reg = jobregistry.New()
	})

	AfterEach(func() {
		if p != nil {
			p.Terminate()
			p = nil
		}
	})

	Describe("Submit", func() {
		It("adds a job and resolves its future", func() {
			reg.Register("answer", func(ctx context.Context, args []any) (any, error) {
				return 42, nil
			})
			p = newPool(defaultConfig(1), reg)

			future := p.Submit(pool.SubmitOptions{}, "answer")
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())
			Expect(outcome.Value).To(Equal(42))
		})
	})

	Describe("Parallelism", func() {
		It("runs N busy-waits concurrently in under 1500ms", func() {
			n := runtime.GOMAXPROCS(0)
			reg.Register("busy-wait", busyWait(time.Second))
			p = newPool(defaultConfig(n), reg)

			futures := make([]*pool.Future, n)
			for i := 0; i < n; i++ {
				futures[i] = p.Submit(pool.SubmitOptions{}, "busy-wait")
			}

			start := time.Now()
			for _, f := range futures {
				var outcome pool.Outcome
				Eventually(f.C(), 2*time.Second).Should(Receive(&outcome))
				Expect(outcome.Err).NotTo(HaveOccurred())
			}
			Expect(time.Since(start)).To(BeNumerically("<", 1500*time.Millisecond))
		})
	})

	Describe("Timeout", func() {
		It("rejects a job that outlives its timeout, then recovers on the replacement worker", func() {
			reg.Register("busy-wait", busyWait(time.Second))
			reg.Register("answer", func(ctx context.Context, args []any) (any, error) {
				return 42, nil
			})
			p = newPool(defaultConfig(1), reg)

			future := p.Submit(pool.SubmitOptions{Timeout: 100 * time.Millisecond}, "busy-wait")
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsTimeoutError(outcome.Err)).To(BeTrue())

			second := p.Submit(pool.SubmitOptions{}, "answer")
			var secondOutcome pool.Outcome
			Eventually(second.C(), 2*time.Second).Should(Receive(&secondOutcome))
			Expect(secondOutcome.Err).NotTo(HaveOccurred())
			Expect(secondOutcome.Value).To(Equal(42))
		})
	})

	Describe("Priority", func() {
		It("runs a HIGH priority job queued behind a LOW one first, on a single-worker pool", func() {
			reg.Register("busy-wait", busyWait(200*time.Millisecond))

			order := make(chan string, 2)
			reg.Register("mark", func(ctx context.Context, args []any) (any, error) {
				order <- args[0].(string)
				return nil, nil
			})

			p = newPool(defaultConfig(1), reg)

			// Occupy the single worker so subsequent submissions queue.
			busy := p.Submit(pool.SubmitOptions{}, "busy-wait")

			low := pool.PriorityLow
			high := pool.PriorityHigh
			p.Submit(pool.SubmitOptions{Priority: &low}, "mark", "low")
			p.Submit(pool.SubmitOptions{Priority: &high}, "mark", "high")

			var busyOutcome pool.Outcome
			Eventually(busy.C(), time.Second).Should(Receive(&busyOutcome))

			Eventually(order, time.Second).Should(Receive(Equal("high")))
			Eventually(order, time.Second).Should(Receive(Equal("low")))
		})
	})

	Describe("Cancellation", func() {
		It("rejects a bound job with CancelledError when its handle fires mid-execution", func() {
			reg.Register("busy-wait", busyWait(time.Second))
			p = newPool(defaultConfig(1), reg)

			ctx, cancel := context.WithCancel(context.Background())
			future := p.Submit(pool.SubmitOptions{Cancel: ctx}, "busy-wait")

			time.AfterFunc(50*time.Millisecond, cancel)

			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsCancelledError(outcome.Err)).To(BeTrue())
		})

		It("eagerly removes a still-queued job when its handle fires before dispatch", func() {
			reg.Register("busy-wait", busyWait(time.Second))
			p = newPool(defaultConfig(1), reg)

			// Occupy the only worker.
			p.Submit(pool.SubmitOptions{}, "busy-wait")

			ctx, cancel := context.WithCancel(context.Background())
			queued := p.Submit(pool.SubmitOptions{Cancel: ctx}, "busy-wait")
			cancel()

			var outcome pool.Outcome
			Eventually(queued.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsCancelledError(outcome.Err)).To(BeTrue())
		})
	})

	Describe("Strict mode validation", func() {
		It("rejects an empty task name before any worker sees it", func() {
			cfg := defaultConfig(1)
			cfg.StrictMode = true
			p = newPool(cfg, reg)

			future := p.Submit(pool.SubmitOptions{}, "")
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsValidationError(outcome.Err)).To(BeTrue())
		})

		It("rejects a disallowed argument shape", func() {
			reg.Register("noop", func(ctx context.Context, args []any) (any, error) { return nil, nil })
			cfg := defaultConfig(1)
			cfg.StrictMode = true
			p = newPool(cfg, reg)

			ch := make(chan int)
			future := p.Submit(pool.SubmitOptions{}, "noop", ch)
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsValidationError(outcome.Err)).To(BeTrue())
		})
	})

	Describe("Worker crash", func() {
		It("fails the bound job and keeps the pool at full size after a panic", func() {
			reg.Register("panics", func(ctx context.Context, args []any) (any, error) {
				panic("boom")
			})
			reg.Register("answer", func(ctx context.Context, args []any) (any, error) {
				return 42, nil
			})
			p = newPool(defaultConfig(2), reg)

			future := p.Submit(pool.SubmitOptions{}, "panics")
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsWorkerCrashError(outcome.Err)).To(BeTrue())

			Eventually(p.Size, 2*time.Second).Should(Equal(2))

			second := p.Submit(pool.SubmitOptions{}, "answer")
			var secondOutcome pool.Outcome
			Eventually(second.C(), 2*time.Second).Should(Receive(&secondOutcome))
			Expect(secondOutcome.Value).To(Equal(42))
		})
	})

	Describe("Size invariant", func() {
		It("never reports a worker count outside [minPoolSize, maxPoolSize]", func() {
			cfg, err := config.NewPoolConfig(
				config.WithPoolSize(200),
				config.WithMinPoolSize(1),
				config.WithMaxPoolSize(8),
			)
			Expect(err).NotTo(HaveOccurred())
			p = newPool(cfg, reg)

			Expect(p.Size()).To(Equal(8))
		})
	})

	Describe("Metrics", func() {
		It("counts completions and failures, and resets on demand", func() {
			reg.Register("answer", func(ctx context.Context, args []any) (any, error) { return 1, nil })
			reg.Register("boom", func(ctx context.Context, args []any) (any, error) { return nil, context.DeadlineExceeded })
			p = newPool(defaultConfig(1), reg)

			var done atomic.Int32
			for i := 0; i < 3; i++ {
				f := p.Submit(pool.SubmitOptions{}, "answer")
				go func() { <-f.C(); done.Add(1) }()
			}
			f := p.Submit(pool.SubmitOptions{}, "boom")
			go func() { <-f.C(); done.Add(1) }()

			Eventually(func() int32 { return done.Load() }, 2*time.Second).Should(Equal(int32(4)))

			snap := p.GetMetrics()
			Expect(snap.CompletedJobs).To(Equal(int64(3)))
			Expect(snap.FailedJobs).To(Equal(int64(1)))

			p.ResetMetrics()
			reset := p.GetMetrics()
			Expect(reset.CompletedJobs).To(Equal(int64(0)))
			Expect(reset.FailedJobs).To(Equal(int64(0)))
		})
	})

	Describe("Close", func() {
		It("drains in-flight and queued work before resolving", func() {
			reg.Register("busy-wait", busyWait(200*time.Millisecond))
			p = newPool(defaultConfig(1), reg)

			f1 := p.Submit(pool.SubmitOptions{}, "busy-wait")
			f2 := p.Submit(pool.SubmitOptions{}, "busy-wait")

			closeDone := p.Close()

			var o1, o2 pool.Outcome
			Eventually(f1.C(), time.Second).Should(Receive(&o1))
			Eventually(f2.C(), time.Second).Should(Receive(&o2))
			Expect(o1.Err).NotTo(HaveOccurred())
			Expect(o2.Err).NotTo(HaveOccurred())

			Eventually(closeDone, time.Second).Should(BeClosed())
			p = nil
		})

		It("rejects submissions made after Close with ClosingError", func() {
			reg.Register("answer", func(ctx context.Context, args []any) (any, error) { return 1, nil })
			p = newPool(defaultConfig(1), reg)
			p.Close()

			future := p.Submit(pool.SubmitOptions{}, "answer")
			var outcome pool.Outcome
			Eventually(future.C(), time.Second).Should(Receive(&outcome))
			Expect(pool.IsClosingError(outcome.Err)).To(BeTrue())
		})
	})

	Describe("Terminate", func() {
		It("returns immediately without waiting for in-flight work", func() {
			reg.Register("busy-wait", busyWait(5*time.Second))
			p = newPool(defaultConfig(1), reg)

			p.Submit(pool.SubmitOptions{}, "busy-wait")

			done := make(chan struct{})
			go func() {
				p.Terminate()
				close(done)
			}()
			Eventually(done, time.Second).Should(BeClosed())
			p = nil
		})
	})
})
