package repository

import (
	"time"

	"github.com/partsflow/approval-engine/internal/domain"
)

// TrackingRecordModel is the persistence model for the tracking_records table.
type TrackingRecordModel struct {
	ID                   string                `gorm:"type:uuid;primaryKey"`
	POID                 int64                 `gorm:"column:po_id;not null"`
	RecipientEmail       string                `gorm:"type:varchar(255);not null"`
	EmailSubject         string                `gorm:"type:varchar(500);not null"`
	TrackingCode         string                `gorm:"type:varchar(32);not null"`
	PDFData              []byte                `gorm:"column:pdf_data;type:bytea"`
	Status               domain.ApprovalStatus `gorm:"type:varchar(20);not null"`
	SentDate             time.Time             `gorm:"not null"`
	ApprovalDate         *time.Time
	ApprovalEmail        *string `gorm:"type:varchar(255)"`
	Notes                *string `gorm:"type:text"`
	ReroutedTo           *string `gorm:"type:varchar(255)"`
	ReroutedDate         *time.Time
	ReroutedTrackingCode *string `gorm:"type:varchar(32)"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (TrackingRecordModel) TableName() string {
	return "tracking_records"
}

// PurchaseOrderModel is the persistence model for purchase_orders. Only the
// approval-relevant columns are mapped here; the rest of the table belongs to
// the CRUD surface outside this engine.
type PurchaseOrderModel struct {
	ID             int64                 `gorm:"primaryKey"`
	PONumber       string                `gorm:"column:po_number;type:varchar(50);not null"`
	Status         domain.POStatus       `gorm:"type:varchar(20);not null"`
	ApprovalStatus domain.ApprovalStatus `gorm:"type:varchar(20);not null"`
	ApprovedBy     *string               `gorm:"type:varchar(255)"`
	ApprovalDate   *time.Time
	Notes          *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PurchaseOrderModel) TableName() string {
	return "purchase_orders"
}

// FailedEmailAttemptModel is the persistence model for failed_email_attempts.
type FailedEmailAttemptModel struct {
	ID           string                     `gorm:"type:uuid;primaryKey"`
	Recipient    string                     `gorm:"type:varchar(255);not null"`
	Subject      string                     `gorm:"type:varchar(500);not null"`
	HTMLContent  string                     `gorm:"column:html_content;type:text"`
	PDFData      []byte                     `gorm:"column:pdf_data;type:bytea"`
	POID         int64                      `gorm:"column:po_id;not null"`
	PONumber     string                     `gorm:"column:po_number;type:varchar(50)"`
	ErrorMessage string                     `gorm:"type:text"`
	Status       domain.FailedAttemptStatus `gorm:"type:varchar(20);not null"`
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

func (FailedEmailAttemptModel) TableName() string {
	return "failed_email_attempts"
}

func trackingModelFromDomain(r *domain.TrackingRecord) *TrackingRecordModel {
	if r == nil {
		return nil
	}

	return &TrackingRecordModel{
		ID:                   r.ID,
		POID:                 r.POID,
		RecipientEmail:       r.RecipientEmail,
		EmailSubject:         r.EmailSubject,
		TrackingCode:         r.TrackingCode,
		PDFData:              r.PDFData,
		Status:               r.Status,
		SentDate:             r.SentDate,
		ApprovalDate:         r.ApprovalDate,
		ApprovalEmail:        r.ApprovalEmail,
		Notes:                r.Notes,
		ReroutedTo:           r.ReroutedTo,
		ReroutedDate:         r.ReroutedDate,
		ReroutedTrackingCode: r.ReroutedTrackingCode,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func trackingModelToDomain(m *TrackingRecordModel) *domain.TrackingRecord {
	if m == nil {
		return nil
	}

	return &domain.TrackingRecord{
		ID:                   m.ID,
		POID:                 m.POID,
		RecipientEmail:       m.RecipientEmail,
		EmailSubject:         m.EmailSubject,
		TrackingCode:         m.TrackingCode,
		PDFData:              m.PDFData,
		Status:               m.Status,
		SentDate:             m.SentDate,
		ApprovalDate:         m.ApprovalDate,
		ApprovalEmail:        m.ApprovalEmail,
		Notes:                m.Notes,
		ReroutedTo:           m.ReroutedTo,
		ReroutedDate:         m.ReroutedDate,
		ReroutedTrackingCode: m.ReroutedTrackingCode,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func poModelToDomain(m *PurchaseOrderModel) *domain.PurchaseOrder {
	if m == nil {
		return nil
	}

	return &domain.PurchaseOrder{
		ID:             m.ID,
		PONumber:       m.PONumber,
		Status:         m.Status,
		ApprovalStatus: m.ApprovalStatus,
		ApprovedBy:     m.ApprovedBy,
		ApprovalDate:   m.ApprovalDate,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func failedAttemptModelFromDomain(a *domain.FailedEmailAttempt) *FailedEmailAttemptModel {
	if a == nil {
		return nil
	}

	return &FailedEmailAttemptModel{
		ID:           a.ID,
		Recipient:    a.Recipient,
		Subject:      a.Subject,
		HTMLContent:  a.HTMLContent,
		PDFData:      a.PDFData,
		POID:         a.POID,
		PONumber:     a.PONumber,
		ErrorMessage: a.ErrorMessage,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
		ProcessedAt:  a.ProcessedAt,
	}
}

func failedAttemptModelToDomain(m *FailedEmailAttemptModel) *domain.FailedEmailAttempt {
	if m == nil {
		return nil
	}

	return &domain.FailedEmailAttempt{
		ID:           m.ID,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		HTMLContent:  m.HTMLContent,
		PDFData:      m.PDFData,
		POID:         m.POID,
		PONumber:     m.PONumber,
		ErrorMessage: m.ErrorMessage,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}
}
