package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/export"
	"github.com/noah-isme/study-planner-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// TimetableDownload is an opened export ready to stream.
type TimetableDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

var timetableHeaders = []string{"Date", "Day", "Start", "End", "Subject", "Content", "Type", "Minutes", "Cycle", "Progress"}

// ExportService renders plan group timetables and hands out signed links.
type ExportService struct {
	groups    planGroupReader
	plans     planLister
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(groups planGroupReader, plans planLister, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		groups:    groups,
		plans:     plans,
		storage:   files,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders the plan group's timetable and returns a signed download URL.
func (s *ExportService) Export(ctx context.Context, req dto.ExportRequest) (*dto.ExportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	group, err := loadPlanGroup(ctx, s.groups, req.PlanGroupID)
	if err != nil {
		return nil, err
	}
	plans, err := s.plans.List(ctx, models.PlanFilter{PlanGroupID: group.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plans")
	}

	dataset := buildTimetable(plans)
	var payload []byte
	switch req.Format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("%s %s ~ %s", group.Name, group.PeriodStart.Format("2006-01-02"), group.PeriodEnd.Format("2006-01-02")))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}

	relPath, err := s.storage.Save(s.buildFilename(group, req.Format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store timetable")
	}
	token, expiresAt, err := s.signer.Sign(group.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	s.logger.Info("timetable exported", zap.String("plan_group_id", group.ID), zap.String("format", req.Format), zap.Int("plans", len(plans)))

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &dto.ExportResponse{
		URL:       fmt.Sprintf("%s/exports/download?token=%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates the token and opens the stored timetable.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*TimetableDownload, error) {
	claims, err := s.signer.Verify(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	if _, err := loadPlanGroup(ctx, s.groups, claims.OwnerID); err != nil {
		return nil, err
	}
	file, err := s.storage.Open(claims.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &TimetableDownload{File: file, Filename: filepath.Base(claims.Path), ExpiresAt: claims.ExpiresAt}, nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.Cleanup(0)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
				}
			}
		}
	}()
}

func (s *ExportService) buildFilename(group *models.PlanGroup, format string) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return filepath.Join("timetables", fmt.Sprintf("%s_%s_%s.%s", sanitizeFilename(group.Name), group.ID, timestamp, format))
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// buildTimetable lays plans out one row per session, in stored order.
func buildTimetable(plans []models.Plan) export.Dataset {
	rows := make([]map[string]string, 0, len(plans))
	total := 0
	for _, p := range plans {
		total += p.Duration
		progress := strconv.Itoa(p.Progress) + "%"
		if p.IsArchived {
			progress += " (archived)"
		}
		cycle := ""
		if p.CycleNumber > 0 {
			cycle = fmt.Sprintf("%d-%d", p.CycleNumber, p.CycleDayNumber)
		}
		rows = append(rows, map[string]string{
			"Date":     p.PlanDate.Format("2006-01-02"),
			"Day":      p.PlanDate.Weekday().String()[:3],
			"Start":    p.StartTime,
			"End":      p.EndTime,
			"Subject":  p.Subject,
			"Content":  p.ContentID,
			"Type":     p.DayType,
			"Minutes":  strconv.Itoa(p.Duration),
			"Cycle":    cycle,
			"Progress": progress,
		})
	}
	return export.Dataset{
		Headers: timetableHeaders,
		Rows:    rows,
		Totals:  map[string]string{"Date": "Total", "Minutes": strconv.Itoa(total)},
		GroupBy: "Date",
		Widths:  map[string]float64{"Date": 1.4, "Subject": 1.6, "Content": 2.4, "Progress": 1.3},
	}
}
