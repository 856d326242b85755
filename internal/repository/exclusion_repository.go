package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-planner-api/internal/models"
)

// ExclusionRepository reads per-student exclusion dates.
type ExclusionRepository struct {
	db *sqlx.DB
}

// NewExclusionRepository constructs the repository.
func NewExclusionRepository(db *sqlx.DB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// ListInRange returns exclusions of a student between from and to inclusive.
func (r *ExclusionRepository) ListInRange(ctx context.Context, studentID string, from, to time.Time) ([]models.Exclusion, error) {
	const query = `SELECT id, student_id, exclusion_date, exclusion_type, reason, created_by, created_at
FROM plan_exclusions WHERE student_id = $1 AND exclusion_date BETWEEN $2 AND $3 ORDER BY exclusion_date`
	var exclusions []models.Exclusion
	if err := r.db.SelectContext(ctx, &exclusions, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return exclusions, nil
}
