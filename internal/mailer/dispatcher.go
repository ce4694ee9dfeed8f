package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/partsflow/approval-engine/internal/observability"
	"github.com/partsflow/approval-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	maxAttempts = 3
	// primaryRetryBackoff separates consecutive attempts on the same
	// transport; fallbackSwitchBackoff is the shorter pause taken right
	// after switching to the fallback.
	primaryRetryBackoff   = 3000 * time.Millisecond
	fallbackSwitchBackoff = 1000 * time.Millisecond
)

// sendState is the dispatcher's per-call delivery state. Transitions are
// monotonic: usingPrimary → usingFallback → exhausted.
type sendState int

const (
	usingPrimary sendState = iota
	usingFallback
	exhausted
)

// Dispatcher sends messages with retry across a primary and an optional
// fallback transport. The first fallback attempt does not consume a retry
// slot; once the fallback is in use, failures count against the budget
// normally. Exhausted payloads are dead-lettered before the error is
// returned, so callers can treat DeliveryFailed as non-fatal to state they
// have already committed.
type Dispatcher struct {
	primary  Transport
	fallback Transport
	queue    DeadLetterQueue
	limiter  ratelimit.RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	primary Transport,
	fallback Transport,
	queue DeadLetterQueue,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary transport is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("dead letter queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		primary:  primary,
		fallback: fallback,
		queue:    queue,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) (*DeliveryReceipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	state := usingPrimary
	transport := d.primary
	attemptsUsed := 0
	totalAttempts := 0
	var lastErr error

	for state != exhausted {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, transport.Name()); err != nil {
				// Fail open. Losing throttling during a Redis outage is
				// recoverable; losing the email of a committed approval is
				// not.
				d.logger.Warn("rate limiter unavailable, sending without throttling",
					zap.String("transport", transport.Name()),
					zap.Error(err),
				)
			}
		}

		totalAttempts++
		start := d.now()
		err := transport.Send(ctx, msg)
		if d.metrics != nil {
			d.metrics.ObserveEmailSendDuration(transport.Name(), d.now().Sub(start))
		}

		if err == nil {
			if d.metrics != nil {
				d.metrics.IncEmailSent(transport.Name())
			}
			return &DeliveryReceipt{Transport: transport.Name(), Attempts: totalAttempts}, nil
		}

		lastErr = err
		d.logger.Warn("email send attempt failed",
			zap.String("transport", transport.Name()),
			zap.String("recipient", msg.To),
			zap.Int("attempt", totalAttempts),
			zap.Error(err),
		)

		if !IsTransient(err) {
			state = exhausted
			break
		}

		// One free switch to the fallback; it does not consume a slot.
		if state == usingPrimary && d.fallback != nil {
			state = usingFallback
			transport = d.fallback
			// An interrupted backoff still falls through to the dead-letter
			// epilogue: the payload must be captured no matter how the loop
			// ends.
			if sleepErr := d.sleep(ctx, fallbackSwitchBackoff); sleepErr != nil {
				state = exhausted
				break
			}
			continue
		}

		attemptsUsed++
		if attemptsUsed >= maxAttempts {
			state = exhausted
			break
		}

		if sleepErr := d.sleep(ctx, primaryRetryBackoff); sleepErr != nil {
			state = exhausted
			break
		}
	}

	reason := "retry_exhausted"
	if !IsTransient(lastErr) {
		reason = "permanent_error"
	}
	if d.metrics != nil {
		d.metrics.IncEmailFailed(transport.Name(), reason)
	}

	// Detached from cancellation: the enqueue must land even when the caller
	// is already gone.
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), msg, lastErr); err != nil {
		d.logger.Error("failed to dead-letter undeliverable email",
			zap.String("recipient", msg.To),
			zap.Int64("poId", msg.POID),
			zap.Error(err),
		)
	} else if d.metrics != nil {
		d.metrics.IncDeadLetterEnqueued()
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, totalAttempts, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
