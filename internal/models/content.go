package models

import "time"

// ContentType enumerates schedulable content kinds.
type ContentType string

const (
	ContentTypeBook    ContentType = "book"
	ContentTypeLecture ContentType = "lecture"
	ContentTypeCustom  ContentType = "custom"
)

// MasterContent is a shared catalog record.
type MasterContent struct {
	ID            string      `db:"id" json:"id"`
	ContentType   ContentType `db:"content_type" json:"content_type"`
	Title         string      `db:"title" json:"title"`
	Subject       string      `db:"subject" json:"subject"`
	Difficulty    string      `db:"difficulty" json:"difficulty"`
	TotalPages    *int        `db:"total_pages" json:"total_pages,omitempty"`
	TotalDuration *int        `db:"total_duration" json:"total_duration,omitempty"`
	TotalEpisodes *int        `db:"total_episodes" json:"total_episodes,omitempty"`
	PageOrTime    *int        `db:"page_or_time" json:"page_or_time,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// StudentContent is a student-owned content record, optionally mirroring a
// master record.
type StudentContent struct {
	ID              string      `db:"id" json:"id"`
	StudentID       string      `db:"student_id" json:"student_id"`
	MasterContentID *string     `db:"master_content_id" json:"master_content_id,omitempty"`
	ContentType     ContentType `db:"content_type" json:"content_type"`
	Title           string      `db:"title" json:"title"`
	Subject         string      `db:"subject" json:"subject"`
	Difficulty      string      `db:"difficulty" json:"difficulty"`
	TotalPages      *int        `db:"total_pages" json:"total_pages,omitempty"`
	StartPage       *int        `db:"start_page" json:"start_page,omitempty"`
	EndPage         *int        `db:"end_page" json:"end_page,omitempty"`
	TotalDuration   *int        `db:"total_duration" json:"total_duration,omitempty"`
	TotalEpisodes   *int        `db:"total_episodes" json:"total_episodes,omitempty"`
	PageOrTime      *int        `db:"page_or_time" json:"page_or_time,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// NewMirror builds the student copy of a master record.
func NewMirror(id, studentID string, master MasterContent, now time.Time) StudentContent {
	masterID := master.ID
	return StudentContent{
		ID:              id,
		StudentID:       studentID,
		MasterContentID: &masterID,
		ContentType:     master.ContentType,
		Title:           master.Title,
		Subject:         master.Subject,
		Difficulty:      master.Difficulty,
		TotalPages:      master.TotalPages,
		TotalDuration:   master.TotalDuration,
		TotalEpisodes:   master.TotalEpisodes,
		PageOrTime:      master.PageOrTime,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Episode is one lecture episode of a master or student content.
type Episode struct {
	ID            string `db:"id" json:"id"`
	ContentID     string `db:"content_id" json:"content_id"`
	EpisodeNumber int    `db:"episode_number" json:"episode_number"`
	Duration      *int   `db:"duration_minutes" json:"duration_minutes,omitempty"`
}

// ContentRef references a content to schedule. Exactly one of ContentID or
// MasterContentID is expected.
type ContentRef struct {
	ContentID        string `json:"contentId,omitempty"`
	MasterContentID  string `json:"masterContentId,omitempty"`
	StartRange       *int   `json:"startRange,omitempty"`
	EndRange         *int   `json:"endRange,omitempty"`
	AssignedEpisodes []int  `json:"assignedEpisodes,omitempty"`
}

// Key identifies the reference for diagnostics.
func (r ContentRef) Key() string {
	if r.ContentID != "" {
		return r.ContentID
	}
	return "master:" + r.MasterContentID
}
