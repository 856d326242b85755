package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-planner-api/internal/models"
)

const blockSetColumns = `id, student_id, camp_template_id, name, is_active, created_at, updated_at`

// BlockSetRepository reads block sets and their time blocks.
type BlockSetRepository struct {
	db *sqlx.DB
}

// NewBlockSetRepository constructs the repository.
func NewBlockSetRepository(db *sqlx.DB) *BlockSetRepository {
	return &BlockSetRepository{db: db}
}

// FindByID loads a block set.
func (r *BlockSetRepository) FindByID(ctx context.Context, id string) (*models.BlockSet, error) {
	query := `SELECT ` + blockSetColumns + ` FROM block_sets WHERE id = $1`
	var set models.BlockSet
	if err := r.db.GetContext(ctx, &set, query, id); err != nil {
		return nil, err
	}
	return &set, nil
}

// FindActiveByStudent returns the single active block set of a student.
func (r *BlockSetRepository) FindActiveByStudent(ctx context.Context, studentID string) (*models.BlockSet, error) {
	query := `SELECT ` + blockSetColumns + ` FROM block_sets WHERE student_id = $1 AND is_active = TRUE LIMIT 1`
	var set models.BlockSet
	if err := r.db.GetContext(ctx, &set, query, studentID); err != nil {
		return nil, err
	}
	return &set, nil
}

// FindByCampTemplate returns the block set attached to a camp template.
func (r *BlockSetRepository) FindByCampTemplate(ctx context.Context, templateID string) (*models.BlockSet, error) {
	query := `SELECT ` + blockSetColumns + ` FROM block_sets WHERE camp_template_id = $1 ORDER BY updated_at DESC LIMIT 1`
	var set models.BlockSet
	if err := r.db.GetContext(ctx, &set, query, templateID); err != nil {
		return nil, err
	}
	return &set, nil
}

// ListBlocks returns the time blocks of a block set.
func (r *BlockSetRepository) ListBlocks(ctx context.Context, blockSetID string) ([]models.TimeBlock, error) {
	const query = `SELECT id, block_set_id, day_of_week, start_time, end_time FROM time_blocks WHERE block_set_id = $1 ORDER BY day_of_week, start_time`
	var blocks []models.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query, blockSetID); err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}
	return blocks, nil
}
