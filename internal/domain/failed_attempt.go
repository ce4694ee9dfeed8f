package domain

import (
	"fmt"
	"strings"
	"time"
)

// FailedAttemptStatus is the lifecycle state of a dead-lettered email.
// Rows are created pending, claimed as sending by exactly one reprocessor,
// and finish sent or failed. They are never deleted.
type FailedAttemptStatus string

const (
	FailedAttemptPending FailedAttemptStatus = "pending"
	FailedAttemptSending FailedAttemptStatus = "sending"
	FailedAttemptSent    FailedAttemptStatus = "sent"
	FailedAttemptFailed  FailedAttemptStatus = "failed"
)

func (s FailedAttemptStatus) String() string { return string(s) }

func (s FailedAttemptStatus) IsValid() bool {
	switch s {
	case FailedAttemptPending, FailedAttemptSending, FailedAttemptSent, FailedAttemptFailed:
		return true
	}
	return false
}

// FailedEmailAttempt is the durable record of an email whose delivery
// exhausted the retry budget. It doubles as an audit log for undeliverable
// messages.
type FailedEmailAttempt struct {
	ID           string
	Recipient    string
	Subject      string
	HTMLContent  string
	PDFData      []byte
	POID         int64
	PONumber     string
	ErrorMessage string
	Status       FailedAttemptStatus
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

func (a *FailedEmailAttempt) Validate() error {
	if strings.TrimSpace(a.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(a.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	return nil
}
