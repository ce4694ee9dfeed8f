package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partsflow/approval-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackingRepository persists tracking records. Tracking codes are unique
// across all records; Create surfaces collisions as ErrDuplicateTrackingCode
// so the caller can retry with a fresh code.
type TrackingRepository interface {
	Create(ctx context.Context, r *domain.TrackingRecord) error
	GetByCode(ctx context.Context, code string) (*domain.TrackingRecord, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*domain.TrackingRecord, error)
	UpdateStatus(ctx context.Context, code string, status domain.ApprovalStatus, approvalEmail *string) (*domain.TrackingRecord, error)
	UpdateReroutingInfo(ctx context.Context, code string, reroutedTo string, reroutedCode string) (*domain.TrackingRecord, error)
	GetHistory(ctx context.Context, poID int64) ([]domain.TrackingRecord, error)
}

type GormTrackingRepo struct {
	db *gorm.DB
}

func NewGormTrackingRepo(db *gorm.DB) *GormTrackingRepo {
	return &GormTrackingRepo{db: db}
}

func (r *GormTrackingRepo) Create(ctx context.Context, record *domain.TrackingRecord) error {
	if record == nil {
		return errors.New("tracking record is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if err := record.Validate(); err != nil {
		return err
	}

	model := trackingModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return domain.ErrDuplicateTrackingCode
		}
		return err
	}

	*record = *trackingModelToDomain(model)
	return nil
}

func (r *GormTrackingRepo) GetByCode(ctx context.Context, code string) (*domain.TrackingRecord, error) {
	return r.getByCode(ctx, code, false)
}

// GetByCodeForUpdate loads a record under a row lock. Meaningful only inside
// a transaction; the approval path uses it so concurrent replies for the same
// code serialize.
func (r *GormTrackingRepo) GetByCodeForUpdate(ctx context.Context, code string) (*domain.TrackingRecord, error) {
	return r.getByCode(ctx, code, true)
}

func (r *GormTrackingRepo) getByCode(ctx context.Context, code string, forUpdate bool) (*domain.TrackingRecord, error) {
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var model TrackingRecordModel
	err := query.First(&model, "tracking_code = ?", strings.TrimSpace(code)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return trackingModelToDomain(&model), nil
}

func (r *GormTrackingRepo) UpdateStatus(ctx context.Context, code string, status domain.ApprovalStatus, approvalEmail *string) (*domain.TrackingRecord, error) {
	if !status.IsValid() {
		return nil, domain.ErrValidation
	}

	updates := map[string]any{
		"status": status,
	}
	if status != domain.ApprovalPending {
		updates["approval_date"] = time.Now().UTC()
	}
	if approvalEmail != nil && strings.TrimSpace(*approvalEmail) != "" {
		updates["approval_email"] = strings.TrimSpace(*approvalEmail)
	}

	result := r.db.WithContext(ctx).
		Model(&TrackingRecordModel{}).
		Where("tracking_code = ?", code).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetByCode(ctx, code)
}

func (r *GormTrackingRepo) UpdateReroutingInfo(ctx context.Context, code string, reroutedTo string, reroutedCode string) (*domain.TrackingRecord, error) {
	result := r.db.WithContext(ctx).
		Model(&TrackingRecordModel{}).
		Where("tracking_code = ?", code).
		Updates(map[string]any{
			"rerouted_to":            strings.TrimSpace(reroutedTo),
			"rerouted_date":          time.Now().UTC(),
			"rerouted_tracking_code": strings.TrimSpace(reroutedCode),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetByCode(ctx, code)
}

func (r *GormTrackingRepo) GetHistory(ctx context.Context, poID int64) ([]domain.TrackingRecord, error) {
	var models []TrackingRecordModel
	err := r.db.WithContext(ctx).
		Where("po_id = ?", poID).
		Order("sent_date DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.TrackingRecord, 0, len(models))
	for i := range models {
		records = append(records, *trackingModelToDomain(&models[i]))
	}

	return records, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
