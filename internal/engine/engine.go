// Package engine implements the purchase order approval workflow: initial
// dispatch, inbound reply processing, and the rerouting chain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partsflow/approval-engine/internal/classify"
	"github.com/partsflow/approval-engine/internal/domain"
	"github.com/partsflow/approval-engine/internal/mailer"
	"github.com/partsflow/approval-engine/internal/notify"
	"github.com/partsflow/approval-engine/internal/observability"
	"github.com/partsflow/approval-engine/internal/pdfrender"
	"github.com/partsflow/approval-engine/internal/repository"
	"go.uber.org/zap"
)

// maxCodeRetries bounds how often a dispatch retries with a fresh tracking
// code after a uniqueness collision. Collisions on 128-bit codes are
// vanishingly rare; hitting the bound means something else is wrong.
const maxCodeRetries = 3

// EmailDispatcher sends one approval email with retry and dead-lettering.
type EmailDispatcher interface {
	Send(ctx context.Context, msg mailer.Message) (*mailer.DeliveryReceipt, error)
}

// ApprovalResult reports the outcome of one processed reply.
type ApprovalResult struct {
	Success        bool
	POID           int64
	NewStatus      domain.POStatus
	ApprovalStatus domain.ApprovalStatus
}

// Engine coordinates the approval workflow. All state changes happen inside
// one database transaction; notifications and rerouting run strictly after
// commit and are best effort.
type Engine struct {
	txm            repository.TxManager
	tracking       repository.TrackingRepository
	purchaseOrders repository.PurchaseOrderRepository
	dispatcher     EmailDispatcher
	classifier     classify.Classifier
	bus            notify.Bus
	renderer       pdfrender.Renderer
	rerouteEmail   string
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

func NewEngine(
	txm repository.TxManager,
	tracking repository.TrackingRepository,
	purchaseOrders repository.PurchaseOrderRepository,
	dispatcher EmailDispatcher,
	classifier classify.Classifier,
	logger *zap.Logger,
) (*Engine, error) {
	if txm == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if tracking == nil {
		return nil, fmt.Errorf("tracking repository is required")
	}
	if purchaseOrders == nil {
		return nil, fmt.Errorf("purchase order repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if classifier == nil {
		classifier = classify.NewKeywordClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		txm:            txm,
		tracking:       tracking,
		purchaseOrders: purchaseOrders,
		dispatcher:     dispatcher,
		classifier:     classifier,
		logger:         logger,
		now:            time.Now,
	}, nil
}

func (e *Engine) SetBus(bus notify.Bus) { e.bus = bus }

func (e *Engine) SetRenderer(renderer pdfrender.Renderer) { e.renderer = renderer }

func (e *Engine) SetMetrics(metrics *observability.Metrics) { e.metrics = metrics }

// SetRerouteEmail configures the final recipient approved documents are
// forwarded to. Empty disables rerouting.
func (e *Engine) SetRerouteEmail(email string) { e.rerouteEmail = strings.TrimSpace(email) }

// ProcessEmailApproval handles one inbound reply. The record is locked for
// the duration of the transaction so concurrent replies for the same code
// serialize; the classifier runs on the locked record's current status to
// honor sticky approval.
func (e *Engine) ProcessEmailApproval(
	ctx context.Context,
	trackingCode string,
	approvalEmail string,
	isApprovedHint bool,
	body string,
) (*ApprovalResult, error) {
	trackingCode = strings.ToLower(strings.TrimSpace(trackingCode))
	if trackingCode == "" {
		return nil, fmt.Errorf("%w: tracking code is required", domain.ErrValidation)
	}
	approvalEmail = strings.TrimSpace(approvalEmail)
	if approvalEmail == "" {
		return nil, fmt.Errorf("%w: approver email is required", domain.ErrValidation)
	}

	var (
		record *domain.TrackingRecord
		po     *domain.PurchaseOrder
	)

	err := e.txm.InTx(ctx, func(s repository.Stores) error {
		locked, err := s.Tracking.GetByCodeForUpdate(ctx, trackingCode)
		if err != nil {
			return err
		}

		if !locked.AddressedTo(approvalEmail) {
			return fmt.Errorf("%w: %s is not the recipient of this approval request",
				domain.ErrUnauthorizedApprover, approvalEmail)
		}

		decided := e.classifier.Classify(classify.Input{Body: body, ApprovedHint: isApprovedHint})
		decided = classify.WithStickyApproval(locked.Status, decided)

		record, err = s.Tracking.UpdateStatus(ctx, trackingCode, decided, &approvalEmail)
		if err != nil {
			return err
		}

		po, err = s.PurchaseOrders.UpdateApprovalStatus(ctx, locked.POID, decided, approvalEmail)
		if err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.WithContextLogger(e.logger, ctx).Info("email approval processed",
		zap.String("trackingCode", record.TrackingCode),
		zap.Int64("poId", po.ID),
		zap.String("decision", record.Status.String()),
		zap.String("approver", approvalEmail),
	)
	if e.metrics != nil {
		e.metrics.IncApprovalProcessed(record.Status.String())
	}

	e.publishStatusEvents(ctx, record, po)

	if record.Status == domain.ApprovalApproved {
		e.rerouteApproved(ctx, record, po)
	}

	return &ApprovalResult{
		Success:        true,
		POID:           po.ID,
		NewStatus:      po.Status,
		ApprovalStatus: po.ApprovalStatus,
	}, nil
}

// SendForApproval renders the purchase order document, creates a pending
// tracking record, and dispatches the approval email. A delivery failure does
// not undo the record: the payload is already dead-lettered and the tracking
// code stays valid for when the retry eventually lands.
func (e *Engine) SendForApproval(ctx context.Context, poID int64, recipient string) (*domain.TrackingRecord, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	po, err := e.purchaseOrders.GetByID(ctx, poID)
	if err != nil {
		return nil, err
	}

	var pdf []byte
	if e.renderer != nil {
		pdf, err = e.renderer.RenderPurchaseOrder(ctx, po.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to render purchase order document: %w", err)
		}
	}

	record, err := e.createTrackingRecord(ctx, e.tracking, po, recipient, pdf)
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, record, po)
	e.publishEmailStatus(ctx, record)

	return record, nil
}

// TrackingHistory returns every dispatch for a purchase order, newest first.
func (e *Engine) TrackingHistory(ctx context.Context, poID int64) ([]domain.TrackingRecord, error) {
	if poID <= 0 {
		return nil, fmt.Errorf("%w: purchase order id must be positive", domain.ErrValidation)
	}
	return e.tracking.GetHistory(ctx, poID)
}

// createTrackingRecord inserts a pending record, retrying with a fresh code
// when the uniqueness index reports a collision. The subject is rebuilt each
// round because it embeds the code.
func (e *Engine) createTrackingRecord(
	ctx context.Context,
	tracking repository.TrackingRepository,
	po *domain.PurchaseOrder,
	recipient string,
	pdf []byte,
) (*domain.TrackingRecord, error) {
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := domain.NewTrackingCode()
		if err != nil {
			return nil, err
		}

		record := &domain.TrackingRecord{
			POID:           po.ID,
			RecipientEmail: recipient,
			EmailSubject:   approvalSubject(po.PONumber, code),
			TrackingCode:   code,
			PDFData:        pdf,
			Status:         domain.ApprovalPending,
			SentDate:       e.now().UTC(),
		}

		err = tracking.Create(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, domain.ErrDuplicateTrackingCode) {
			return nil, err
		}

		e.logger.Warn("tracking code collision, retrying with a fresh code",
			zap.Int64("poId", po.ID),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("%w: could not allocate a unique tracking code", domain.ErrConflict)
}

// dispatch sends the approval email. DeliveryFailed is non-fatal: the record
// is committed and the payload sits in the dead-letter queue.
func (e *Engine) dispatch(ctx context.Context, record *domain.TrackingRecord, po *domain.PurchaseOrder) {
	msg := mailer.Message{
		To:       record.RecipientEmail,
		Subject:  record.EmailSubject,
		HTML:     approvalBody(po, record),
		PDF:      record.PDFData,
		POID:     po.ID,
		PONumber: po.PONumber,
	}

	receipt, err := e.dispatcher.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, mailer.ErrDeliveryFailed) {
			e.logger.Warn("approval email dead-lettered, tracking record remains pending",
				zap.String("trackingCode", record.TrackingCode),
				zap.String("recipient", record.RecipientEmail),
				zap.Error(err),
			)
			return
		}
		e.logger.Error("approval email dispatch failed",
			zap.String("trackingCode", record.TrackingCode),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("approval email sent",
		zap.String("trackingCode", record.TrackingCode),
		zap.String("recipient", record.RecipientEmail),
		zap.String("transport", receipt.Transport),
		zap.Int("attempts", receipt.Attempts),
	)
}

func (e *Engine) publishStatusEvents(ctx context.Context, record *domain.TrackingRecord, po *domain.PurchaseOrder) {
	if e.bus == nil {
		return
	}

	e.publishEmailStatus(ctx, record)

	err := e.bus.PublishPurchaseOrder(ctx, notify.PurchaseOrderUpdate{
		POID:           po.ID,
		Status:         po.Status.String(),
		ApprovalStatus: po.ApprovalStatus.String(),
		OccurredAt:     e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to publish purchase order update",
			zap.Int64("poId", po.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publishEmailStatus(ctx context.Context, record *domain.TrackingRecord) {
	if e.bus == nil {
		return
	}

	update := notify.EmailStatusUpdate{
		POID:         record.POID,
		TrackingCode: record.TrackingCode,
		Status:       record.Status.String(),
		OccurredAt:   e.now().UTC(),
	}
	if record.Notes != nil {
		update.Notes = *record.Notes
	}

	if err := e.bus.PublishEmailStatus(ctx, update); err != nil {
		e.logger.Warn("failed to publish email status update",
			zap.String("trackingCode", record.TrackingCode),
			zap.Error(err),
		)
	}
}

func approvalSubject(poNumber string, code string) string {
	return fmt.Sprintf("Purchase Order %s Approval Request %s", poNumber, domain.ApprovalSubjectTag(code))
}

func approvalBody(po *domain.PurchaseOrder, record *domain.TrackingRecord) string {
	return fmt.Sprintf(
		"<html><body>"+
			"<p>Purchase order <strong>%s</strong> requires your approval.</p>"+
			"<p>Reply to this email with your decision. Typical replies are "+
			"<em>approved</em>, <em>on hold</em>, or an explicit rejection.</p>"+
			"<p>The attached document contains the full order. "+
			"Please keep the subject line intact so your reply can be matched "+
			"to this request.</p>"+
			"<p>Reference: %s</p>"+
			"</body></html>",
		po.PONumber, domain.ApprovalSubjectTag(record.TrackingCode),
	)
}
