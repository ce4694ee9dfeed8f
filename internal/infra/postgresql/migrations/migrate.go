package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/partsflow/approval-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createPurchaseOrdersTable(),
		createTrackingRecordsTable(),
		createFailedEmailAttemptsTable(),
	})

	return m.Migrate()
}

func createPurchaseOrdersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_purchase_orders",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PurchaseOrderModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_purchase_orders_po_number ON purchase_orders (po_number)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PurchaseOrderModel{})
		},
	}
}

func createTrackingRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_tracking_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TrackingRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracking_records_tracking_code ON tracking_records (tracking_code)`,
				// Rerouting chains grow without bound; history queries walk
				// them by owning order.
				`CREATE INDEX IF NOT EXISTS idx_tracking_records_po_id_tracking_code ON tracking_records (po_id, tracking_code)`,
				`CREATE INDEX IF NOT EXISTS idx_tracking_records_po_id_sent_date ON tracking_records (po_id, sent_date DESC)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TrackingRecordModel{})
		},
	}
}

func createFailedEmailAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_failed_email_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FailedEmailAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_failed_email_attempts_pending ON failed_email_attempts (created_at) WHERE status = 'pending'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FailedEmailAttemptModel{})
		},
	}
}
