package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partsflow/approval-engine/internal/domain"
	"gorm.io/gorm"
)

// PurchaseOrderRepository mutates the approval fields of purchase orders.
// The operational status is always derived from the approval status; no
// caller sets it independently.
type PurchaseOrderRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.PurchaseOrder, error)
	UpdateApprovalStatus(ctx context.Context, id int64, approval domain.ApprovalStatus, approvedBy string) (*domain.PurchaseOrder, error)
}

type GormPurchaseOrderRepo struct {
	db *gorm.DB
}

func NewGormPurchaseOrderRepo(db *gorm.DB) *GormPurchaseOrderRepo {
	return &GormPurchaseOrderRepo{db: db}
}

func (r *GormPurchaseOrderRepo) GetByID(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	var model PurchaseOrderModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return poModelToDomain(&model), nil
}

func (r *GormPurchaseOrderRepo) UpdateApprovalStatus(ctx context.Context, id int64, approval domain.ApprovalStatus, approvedBy string) (*domain.PurchaseOrder, error) {
	if !approval.IsValid() {
		return nil, domain.ErrValidation
	}

	updates := map[string]any{
		"approval_status": approval,
		"status":          approval.POStatus(),
	}
	if trimmed := strings.TrimSpace(approvedBy); trimmed != "" {
		updates["approved_by"] = trimmed
	}
	if approval != domain.ApprovalPending {
		updates["approval_date"] = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Model(&PurchaseOrderModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetByID(ctx, id)
}
