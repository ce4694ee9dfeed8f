package engine

import (
	"context"

	"github.com/partsflow/approval-engine/internal/domain"
	"github.com/partsflow/approval-engine/internal/repository"
	"go.uber.org/zap"
)

// rerouteApproved forwards an approved document to the configured final
// recipient, extending the tracking chain with a fresh pending record. The
// approval is already committed, so every failure here is logged and
// swallowed; at worst the chain simply does not extend.
func (e *Engine) rerouteApproved(ctx context.Context, approved *domain.TrackingRecord, po *domain.PurchaseOrder) {
	if e.rerouteEmail == "" {
		return
	}
	if approved.AddressedTo(e.rerouteEmail) {
		// The final recipient just approved; the chain ends here.
		e.logger.Debug("skipping reroute, record already addressed to final recipient",
			zap.String("trackingCode", approved.TrackingCode),
		)
		return
	}

	pdf := approved.PDFData
	if len(pdf) == 0 && e.renderer != nil {
		regenerated, err := e.renderer.RenderPurchaseOrder(ctx, po.ID)
		if err != nil {
			e.logger.Error("reroute aborted, could not regenerate document",
				zap.Int64("poId", po.ID),
				zap.String("trackingCode", approved.TrackingCode),
				zap.Error(err),
			)
			return
		}
		pdf = regenerated
	}

	var rerouted *domain.TrackingRecord
	err := e.txm.InTx(ctx, func(s repository.Stores) error {
		record, err := e.createTrackingRecord(ctx, s.Tracking, po, e.rerouteEmail, pdf)
		if err != nil {
			return err
		}

		if _, err := s.Tracking.UpdateReroutingInfo(ctx, approved.TrackingCode, e.rerouteEmail, record.TrackingCode); err != nil {
			return err
		}

		rerouted = record
		return nil
	})
	if err != nil {
		e.logger.Error("reroute failed, approval remains committed",
			zap.Int64("poId", po.ID),
			zap.String("trackingCode", approved.TrackingCode),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("approved document rerouted",
		zap.Int64("poId", po.ID),
		zap.String("fromTrackingCode", approved.TrackingCode),
		zap.String("toTrackingCode", rerouted.TrackingCode),
		zap.String("recipient", e.rerouteEmail),
	)

	e.dispatch(ctx, rerouted, po)
	e.publishEmailStatus(ctx, rerouted)
}
