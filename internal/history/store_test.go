package history_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nodeswarm-go/taskpool/internal/history"
	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

func TestHistory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "History Suite")
}

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		s   *history.Store
		db  *sql.DB
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = history.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())

		s = history.NewStore(db)
		Expect(s.Migrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	It("records and lists a completed job", func() {
		rec := pool.JobRecord{
			ID:         uuid.New(),
			TaskName:   "answer",
			Priority:   pool.PriorityNormal,
			EnqueuedAt: time.Now().Add(-time.Second),
			StartedAt:  time.Now().Add(-500 * time.Millisecond),
			FinishedAt: time.Now(),
			Outcome:    "completed",
		}
		s.Record(rec)

		Eventually(func() ([]history.Record, error) {
			return s.List(ctx, history.ByTaskName("answer"))
		}, time.Second).Should(HaveLen(1))

		records, err := s.List(ctx, history.ByTaskName("answer"))
		Expect(err).NotTo(HaveOccurred())
		Expect(records[0].ID).To(Equal(rec.ID.String()))
		Expect(records[0].Outcome).To(Equal("completed"))
	})

	It("records a failed job with its error kind and message", func() {
		rec := pool.JobRecord{
			ID:         uuid.New(),
			TaskName:   "boom",
			Priority:   pool.PriorityHigh,
			EnqueuedAt: time.Now(),
			FinishedAt: time.Now(),
			Outcome:    "failed",
			ErrorKind:  "timeout",
		}
		rec.ErrorMessage = "task \"boom\" timed out after 100ms"
		s.Record(rec)

		Eventually(func() ([]history.Record, error) {
			return s.List(ctx, history.ByOutcome("failed"))
		}, time.Second).Should(HaveLen(1))

		records, err := s.List(ctx, history.ByOutcome("failed"))
		Expect(err).NotTo(HaveOccurred())
		Expect(records[0].ErrorKind).To(Equal("timeout"))
		Expect(records[0].ErrorMessage).To(Equal(rec.ErrorMessage))
	})

	It("honors limit/offset across matching rows", func() {
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			s.Record(pool.JobRecord{
				ID:         uuid.New(),
				TaskName:   "answer",
				Priority:   pool.PriorityNormal,
				EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
				FinishedAt: base.Add(time.Duration(i) * time.Minute),
				Outcome:    "completed",
			})
		}

		Eventually(func() (int, error) {
			return s.Count(ctx, history.ByTaskName("answer"))
		}, time.Second).Should(Equal(5))

		page, err := s.List(ctx, history.ByTaskName("answer"), history.WithLimit(2), history.WithOffset(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(page).To(HaveLen(2))
	})

	It("is idempotent to run Migrate more than once", func() {
		Expect(s.Migrate(ctx)).To(Succeed())
		Expect(s.Migrate(ctx)).To(Succeed())
	})
})
