package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gradearena/arena-api/internal/models"
)

// SubmissionRepository is the append-only store for finalized submission
// records. There is deliberately no update or delete: records are immutable
// once written, which is what lets the leaderboard recompute from the full
// history without coordination.
type SubmissionRepository interface {
	Append(ctx context.Context, record *models.SubmissionRecord) error
	ListAll(ctx context.Context) ([]models.SubmissionRecord, error)
	ListByQuestion(ctx context.Context, questionID uint) ([]models.SubmissionRecord, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Append(ctx context.Context, record *models.SubmissionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *submissionRepository) ListAll(ctx context.Context) ([]models.SubmissionRecord, error) {
	var records []models.SubmissionRecord
	if err := r.db.WithContext(ctx).
		Model(&models.SubmissionRecord{}).
		Order("submitted_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r *submissionRepository) ListByQuestion(ctx context.Context, questionID uint) ([]models.SubmissionRecord, error) {
	var records []models.SubmissionRecord
	if err := r.db.WithContext(ctx).
		Model(&models.SubmissionRecord{}).
		Where("question_id = ?", questionID).
		Order("absolute_difference ASC, submitted_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}
