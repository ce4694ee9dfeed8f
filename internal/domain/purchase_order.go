package domain

import (
	"fmt"
	"strings"
	"time"
)

// POStatus is the operational status of a purchase order. It is derived from
// the approval status and never set directly by approval processing.
type POStatus string

const (
	POPending  POStatus = "pending"
	POApproved POStatus = "approved"
	POCanceled POStatus = "canceled"
)

func (s POStatus) String() string { return string(s) }

func (s POStatus) IsValid() bool {
	switch s {
	case POPending, POApproved, POCanceled:
		return true
	}
	return false
}

func ParsePOStatusFromString(s string) (POStatus, error) {
	st := POStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid purchase order status %q", ErrValidation, s)
	}
	return st, nil
}

// PurchaseOrder carries the approval-relevant fields of a purchase order.
// The wider PO entity (line items, supplier, totals) lives outside this
// engine; only the approval fields are mutated here.
type PurchaseOrder struct {
	ID             int64
	PONumber       string
	Status         POStatus
	ApprovalStatus ApprovalStatus
	ApprovedBy     *string
	ApprovalDate   *time.Time
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
