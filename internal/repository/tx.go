package repository

import (
	"context"

	"gorm.io/gorm"
)

// Stores bundles the repositories participating in one database transaction.
type Stores struct {
	Tracking       TrackingRepository
	PurchaseOrders PurchaseOrderRepository
}

// TxManager runs a function inside a single database transaction. Any error
// rolls the whole transaction back, leaving all state untouched.
type TxManager interface {
	InTx(ctx context.Context, fn func(s Stores) error) error
}

type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

func (m *GormTxManager) InTx(ctx context.Context, fn func(s Stores) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Tracking:       NewGormTrackingRepo(tx),
			PurchaseOrders: NewGormPurchaseOrderRepo(tx),
		})
	})
}
