// Package notify fans approval lifecycle events out to interested clients.
// Events are published to Redis channels and bridged onto websocket
// subscribers; delivery is best effort and never blocks approval processing.
package notify

import (
	"context"
	"fmt"
	"time"
)

const (
	// Redis channels carrying the two event kinds.
	ChannelEmailStatus   = "approval.email_status"
	ChannelPurchaseOrder = "approval.purchase_order"
)

// EmailStatusUpdate announces that a tracking record changed state.
type EmailStatusUpdate struct {
	POID         int64     `json:"poId"`
	TrackingCode string    `json:"trackingCode"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func (u EmailStatusUpdate) Validate() error {
	if u.POID <= 0 {
		return fmt.Errorf("purchase order id must be positive")
	}
	if u.TrackingCode == "" {
		return fmt.Errorf("tracking code is required")
	}
	if u.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// PurchaseOrderUpdate announces that a purchase order's status changed as a
// result of an approval decision.
type PurchaseOrderUpdate struct {
	POID           int64     `json:"poId"`
	Status         string    `json:"status"`
	ApprovalStatus string    `json:"approvalStatus"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (u PurchaseOrderUpdate) Validate() error {
	if u.POID <= 0 {
		return fmt.Errorf("purchase order id must be positive")
	}
	if u.Status == "" {
		return fmt.Errorf("status is required")
	}
	if u.ApprovalStatus == "" {
		return fmt.Errorf("approval status is required")
	}
	return nil
}

// Bus publishes lifecycle events. Implementations must tolerate having no
// subscribers; a publish with nobody listening is not an error.
type Bus interface {
	PublishEmailStatus(ctx context.Context, update EmailStatusUpdate) error
	PublishPurchaseOrder(ctx context.Context, update PurchaseOrderUpdate) error
}
