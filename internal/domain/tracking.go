package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ApprovalStatus represents the decision state of a tracking record and of a
// purchase order's approval field.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalOnHold   ApprovalStatus = "on_hold"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) String() string { return string(s) }

func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalOnHold, ApprovalRejected:
		return true
	}
	return false
}

func ParseApprovalStatusFromString(s string) (ApprovalStatus, error) {
	st := ApprovalStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid approval status %q", ErrValidation, s)
	}
	return st, nil
}

// POStatus derives the operational purchase order status from an approval
// decision. The mapping is fixed: approved stays approved, on_hold keeps the
// order pending, rejected cancels it.
func (s ApprovalStatus) POStatus() POStatus {
	switch s {
	case ApprovalApproved:
		return POApproved
	case ApprovalRejected:
		return POCanceled
	default:
		return POPending
	}
}

const (
	// trackingCodeBytes is the entropy of a tracking code (128 bit).
	trackingCodeBytes = 16
	// TrackingCodeLength is the hex-encoded tracking code length.
	TrackingCodeLength = trackingCodeBytes * 2
)

var (
	trackingCodePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	subjectTagPattern   = regexp.MustCompile(`\[PO-APPROVAL-([0-9a-f]{32})\]`)
)

// NewTrackingCode returns a cryptographically random, hex-encoded tracking
// code. Uniqueness is enforced by the store; callers retry with a fresh code
// on collision.
func NewTrackingCode() (string, error) {
	buf := make([]byte, trackingCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tracking code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ApprovalSubjectTag renders the subject-line marker that correlates inbound
// replies with an outbound dispatch, e.g. [PO-APPROVAL-<code>].
func ApprovalSubjectTag(code string) string {
	return fmt.Sprintf("[PO-APPROVAL-%s]", code)
}

// TrackingCodeFromSubject extracts a tracking code from a reply subject line.
// Returns an empty string when the subject carries no marker.
func TrackingCodeFromSubject(subject string) string {
	match := subjectTagPattern.FindStringSubmatch(strings.ToLower(subject))
	if len(match) != 2 {
		return ""
	}
	return match[1]
}

// TrackingRecord is one email dispatch of a purchase order to one recipient.
// Records chain forward through ReroutedTrackingCode, forming the append-only
// audit trail of who the document was sent to and what they decided.
type TrackingRecord struct {
	ID                   string
	POID                 int64
	RecipientEmail       string
	EmailSubject         string
	TrackingCode         string
	PDFData              []byte
	Status               ApprovalStatus
	SentDate             time.Time
	ApprovalDate         *time.Time
	ApprovalEmail        *string
	Notes                *string
	ReroutedTo           *string
	ReroutedDate         *time.Time
	ReroutedTrackingCode *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r *TrackingRecord) Validate() error {
	if r.POID <= 0 {
		return fmt.Errorf("%w: purchase order id is required", ErrValidation)
	}
	if strings.TrimSpace(r.RecipientEmail) == "" {
		return fmt.Errorf("%w: recipient email is required", ErrValidation)
	}
	if strings.TrimSpace(r.EmailSubject) == "" {
		return fmt.Errorf("%w: email subject is required", ErrValidation)
	}
	if !trackingCodePattern.MatchString(r.TrackingCode) {
		return fmt.Errorf("%w: tracking code must be %d hex characters", ErrValidation, TrackingCodeLength)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	return nil
}

// AddressedTo reports whether the claimed approver address matches the
// recipient this record was dispatched to. Comparison is case-insensitive;
// mailboxes routinely reply with different casing than they were addressed
// with.
func (r *TrackingRecord) AddressedTo(email string) bool {
	return strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(r.RecipientEmail))
}
