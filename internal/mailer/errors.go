package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrDeliveryFailed signals that every attempt across all configured
// transports failed and the payload was handed to the dead-letter queue.
var ErrDeliveryFailed = errors.New("delivery failed")

// DeliveryError classifies a single transport attempt as transient or
// permanent. Permanent failures (bad address, oversized attachment) stop the
// retry loop immediately instead of burning the remaining budget.
type DeliveryError struct {
	Transport string
	Message   string
	Transient bool
	Cause     error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "delivery error")

	if t := strings.TrimSpace(e.Transport); t != "" {
		parts = append(parts, fmt.Sprintf("transport=%s", t))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed attempt is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
