// Package deadletter persists undeliverable emails and retries them in the
// background.
package deadletter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/partsflow/approval-engine/internal/domain"
	"github.com/partsflow/approval-engine/internal/mailer"
	"github.com/partsflow/approval-engine/internal/observability"
	"github.com/partsflow/approval-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 5 * time.Minute
	defaultScanLimit    = 100
)

// Queue stores exhausted email payloads as failed_email_attempts rows and
// redelivers them on a fixed interval. The reprocessor starts lazily on the
// first Enqueue, so a process that never dead-letters anything never runs the
// scan loop. Each redelivery is a single attempt on the primary transport;
// rows that fail again are marked failed and kept for auditing.
type Queue struct {
	attempts  repository.FailedAttemptRepository
	transport mailer.Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ mailer.DeadLetterQueue = (*Queue)(nil)

func NewQueue(
	attempts repository.FailedAttemptRepository,
	transport mailer.Transport,
	interval time.Duration,
	logger *zap.Logger,
) (*Queue, error) {
	if attempts == nil {
		return nil, fmt.Errorf("failed attempt repository is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		attempts:  attempts,
		transport: transport,
		logger:    logger,
		interval:  interval,
		limit:     defaultScanLimit,
		now:       time.Now,
	}, nil
}

func (q *Queue) SetMetrics(metrics *observability.Metrics) {
	if q == nil {
		return
	}
	q.metrics = metrics
}

// Enqueue persists the payload with status pending and makes sure the
// background reprocessor is running.
func (q *Queue) Enqueue(ctx context.Context, msg mailer.Message, cause error) error {
	attempt := &domain.FailedEmailAttempt{
		Recipient:   msg.To,
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		PDFData:     msg.PDF,
		POID:        msg.POID,
		PONumber:    msg.PONumber,
		Status:      domain.FailedAttemptPending,
	}
	if cause != nil {
		attempt.ErrorMessage = cause.Error()
	}

	if err := q.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to persist dead-lettered email: %w", err)
	}

	q.logger.Info("email dead-lettered for background retry",
		zap.String("attemptId", attempt.ID),
		zap.String("recipient", attempt.Recipient),
		zap.Int64("poId", attempt.POID),
	)

	q.ensureStarted()
	return nil
}

// ensureStarted spins up the scan loop exactly once per process. The loop
// uses its own context so it outlives the request that triggered it; Stop
// tears it down at shutdown.
func (q *Queue) ensureStarted() {
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.done = make(chan struct{})

		go func() {
			defer close(q.done)
			q.run(ctx)
		}()
	})
}

// Stop halts the reprocessor and waits for an in-flight scan to finish.
// Calling Stop on a queue that never started is a no-op.
func (q *Queue) Stop() {
	if q == nil || q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

func (q *Queue) run(ctx context.Context) {
	q.logger.Info("dead-letter reprocessor started", zap.Duration("interval", q.interval))

	// Scan immediately so the row that triggered the start does not wait a
	// full interval.
	q.scanOnce(ctx)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("dead-letter reprocessor stopped")
			return
		case <-ticker.C:
			q.scanOnce(ctx)
		}
	}
}

func (q *Queue) scanOnce(ctx context.Context) {
	pending, err := q.attempts.ListPending(ctx, q.limit)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("failed to list pending dead-lettered emails", zap.Error(err))
		}
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		q.redeliver(ctx, &pending[i])
	}
}

func (q *Queue) redeliver(ctx context.Context, attempt *domain.FailedEmailAttempt) {
	claimed, err := q.attempts.Claim(ctx, attempt.ID)
	if err != nil {
		q.logger.Error("failed to claim dead-lettered email",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		// Another reprocessor took the row.
		return
	}

	msg := mailer.Message{
		To:       attempt.Recipient,
		Subject:  attempt.Subject,
		HTML:     attempt.HTMLContent,
		PDF:      attempt.PDFData,
		POID:     attempt.POID,
		PONumber: attempt.PONumber,
	}

	status := domain.FailedAttemptSent
	outcome := "sent"
	if sendErr := q.transport.Send(ctx, msg); sendErr != nil {
		status = domain.FailedAttemptFailed
		outcome = "failed"
		q.logger.Warn("dead-lettered email redelivery failed",
			zap.String("attemptId", attempt.ID),
			zap.String("recipient", attempt.Recipient),
			zap.Error(sendErr),
		)
	} else {
		q.logger.Info("dead-lettered email redelivered",
			zap.String("attemptId", attempt.ID),
			zap.String("recipient", attempt.Recipient),
		)
	}

	if err := q.attempts.MarkProcessed(ctx, attempt.ID, status, q.now()); err != nil {
		q.logger.Error("failed to finalize dead-lettered email",
			zap.String("attemptId", attempt.ID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return
	}

	if q.metrics != nil {
		q.metrics.IncDeadLetterProcessed(outcome)
	}
}
