package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-planner-api/internal/models"
)

var studentContentColumns = []string{
	"id", "student_id", "master_content_id", "content_type", "title", "subject", "difficulty",
	"total_pages", "start_page", "end_page", "total_duration", "total_episodes", "page_or_time", "created_at", "updated_at",
}

var masterContentColumns = []string{
	"id", "content_type", "title", "subject", "difficulty", "total_pages", "total_duration", "total_episodes", "page_or_time", "created_at",
}

// ContentRepository reads student and master contents. Every lookup takes a
// batch of ids and issues a single query.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository constructs the repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// ListStudentContents loads student-owned contents by id.
func (r *ContentRepository) ListStudentContents(ctx context.Context, studentID string, ids []string) ([]models.StudentContent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select(studentContentColumns...).From("student_contents").
		Where(squirrel.Eq{"student_id": studentID, "id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student content query: %w", err)
	}
	var contents []models.StudentContent
	if err := r.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, fmt.Errorf("list student contents: %w", err)
	}
	return contents, nil
}

// ListMirrors loads the student copies of master contents.
func (r *ContentRepository) ListMirrors(ctx context.Context, studentID string, masterIDs []string) ([]models.StudentContent, error) {
	if len(masterIDs) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select(studentContentColumns...).From("student_contents").
		Where(squirrel.Eq{"student_id": studentID, "master_content_id": masterIDs}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build mirror query: %w", err)
	}
	var contents []models.StudentContent
	if err := r.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, fmt.Errorf("list content mirrors: %w", err)
	}
	return contents, nil
}

// ListMasterContents loads catalog records by id.
func (r *ContentRepository) ListMasterContents(ctx context.Context, ids []string) ([]models.MasterContent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select(masterContentColumns...).From("master_contents").
		Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build master content query: %w", err)
	}
	var contents []models.MasterContent
	if err := r.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, fmt.Errorf("list master contents: %w", err)
	}
	return contents, nil
}

// CreateMirror copies a master content into the student's library.
func (r *ContentRepository) CreateMirror(ctx context.Context, studentID string, master models.MasterContent) (*models.StudentContent, error) {
	mirror := models.NewMirror(uuid.NewString(), studentID, master, time.Now().UTC())
	content := &mirror
	const query = `
INSERT INTO student_contents (id, student_id, master_content_id, content_type, title, subject, difficulty,
	total_pages, start_page, end_page, total_duration, total_episodes, page_or_time, created_at, updated_at)
VALUES (:id, :student_id, :master_content_id, :content_type, :title, :subject, :difficulty,
	:total_pages, :start_page, :end_page, :total_duration, :total_episodes, :page_or_time, :created_at, :updated_at)
ON CONFLICT (student_id, master_content_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, content)
	if err != nil {
		return nil, fmt.Errorf("insert content mirror: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&content.ID); err != nil {
			return nil, fmt.Errorf("scan content mirror id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("content mirror rows: %w", err)
	}
	return content, nil
}

// ListEpisodes loads the episodes of many contents in one round trip.
func (r *ContentRepository) ListEpisodes(ctx context.Context, contentIDs []string) ([]models.Episode, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select("id", "content_id", "episode_number", "duration_minutes").From("content_episodes").
		Where(squirrel.Eq{"content_id": contentIDs}).OrderBy("content_id", "episode_number").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build episode query: %w", err)
	}
	var episodes []models.Episode
	if err := r.db.SelectContext(ctx, &episodes, query, args...); err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return episodes, nil
}
