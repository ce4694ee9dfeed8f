package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partsflow/approval-engine/internal/domain"
	"gorm.io/gorm"
)

// FailedAttemptRepository owns the failed_email_attempts dead-letter table.
// Claim performs the atomic pending→sending flip so that, with multiple
// reprocessors running, only one of them redelivers a given row.
type FailedAttemptRepository interface {
	Create(ctx context.Context, a *domain.FailedEmailAttempt) error
	ListPending(ctx context.Context, limit int) ([]domain.FailedEmailAttempt, error)
	Claim(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string, status domain.FailedAttemptStatus, processedAt time.Time) error
}

type GormFailedAttemptRepo struct {
	db *gorm.DB
}

func NewGormFailedAttemptRepo(db *gorm.DB) *GormFailedAttemptRepo {
	return &GormFailedAttemptRepo{db: db}
}

func (r *GormFailedAttemptRepo) Create(ctx context.Context, a *domain.FailedEmailAttempt) error {
	if a == nil {
		return domain.ErrValidation
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.FailedAttemptPending
	}
	if err := a.Validate(); err != nil {
		return err
	}

	model := failedAttemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	*a = *failedAttemptModelToDomain(model)
	return nil
}

func (r *GormFailedAttemptRepo) ListPending(ctx context.Context, limit int) ([]domain.FailedEmailAttempt, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", domain.FailedAttemptPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []FailedEmailAttemptModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	attempts := make([]domain.FailedEmailAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *failedAttemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

// Claim flips a row pending→sending. A false result means another worker got
// there first and the caller must skip the row.
func (r *GormFailedAttemptRepo) Claim(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&FailedEmailAttemptModel{}).
		Where("id = ? AND status = ?", id, domain.FailedAttemptPending).
		Update("status", domain.FailedAttemptSending)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormFailedAttemptRepo) MarkProcessed(ctx context.Context, id string, status domain.FailedAttemptStatus, processedAt time.Time) error {
	if status != domain.FailedAttemptSent && status != domain.FailedAttemptFailed {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&FailedEmailAttemptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
