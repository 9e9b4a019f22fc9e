package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"propsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	logSheet     = "Sync Log"
	mappingSheet = "Mappings"

	// DefaultLogLimit caps the rows of the sync log sheet.
	DefaultLogLimit = 10000
)

var logHeaders = []string{"ID", "Time", "Entity", "Local ID", "Action", "Direction", "Status", "Error"}

// Source reads what the report shows.
type Source interface {
	ListSyncLog(ctx context.Context, since time.Time, limit uint64) ([]models.SyncLogEntry, error)
	GetStats(ctx context.Context) (map[string]int64, error)
}

// Reporter renders the sync log and mapping counts as an XLSX workbook.
type Reporter struct {
	source Source
	logger zerolog.Logger
}

func NewReporter(source Source, logger *zerolog.Logger) *Reporter {
	return &Reporter{
		source: source,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// WriteSyncReport writes the workbook for entries created since the given
// time. A zero limit means DefaultLogLimit.
func (r *Reporter) WriteSyncReport(ctx context.Context, w io.Writer, since time.Time, limit uint64) error {
	f, err := r.build(ctx, since, limit)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// SaveSyncReport stores the workbook under dir and returns its path.
func (r *Reporter) SaveSyncReport(ctx context.Context, dir string, since time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	f, err := r.build(ctx, since, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("sync_log_%s.xlsx", time.Now().UTC().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	r.logger.Info().Str("path", path).Msg("Sync report saved")
	return path, nil
}

func (r *Reporter) build(ctx context.Context, since time.Time, limit uint64) (*excelize.File, error) {
	if limit == 0 {
		limit = DefaultLogLimit
	}
	entries, err := r.source.ListSyncLog(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("load sync log: %w", err)
	}
	stats, err := r.source.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mapping stats: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(logSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})

	writeLogSheet(f, entries, headerStyle, failedStyle)
	if _, err := f.NewSheet(mappingSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	writeMappingSheet(f, stats, headerStyle)
	_ = f.DeleteSheet("Sheet1")

	r.logger.Debug().Int("entries", len(entries)).Msg("Sync report built")
	return f, nil
}

func writeLogSheet(f *excelize.File, entries []models.SyncLogEntry, headerStyle, failedStyle int) {
	for i, h := range logHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(logSheet, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(logHeaders))
	_ = f.SetCellStyle(logSheet, "A1", lastCol+"1", headerStyle)
	_ = f.SetColWidth(logSheet, "B", "B", 22)
	_ = f.SetColWidth(logSheet, "H", "H", 60)

	for i, e := range entries {
		row := i + 2
		values := []interface{}{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.EntityType,
			e.EntityID,
			e.Action,
			e.Direction,
			e.Status,
			e.ErrorMessage,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(logSheet, cell, v)
		}
		if e.Status == models.LogFailed {
			start, _ := excelize.CoordinatesToCellName(1, row)
			end, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(logSheet, start, end, failedStyle)
		}
	}
}

func writeMappingSheet(f *excelize.File, stats map[string]int64, headerStyle int) {
	_ = f.SetCellValue(mappingSheet, "A1", "Entity type")
	_ = f.SetCellValue(mappingSheet, "B1", "Mappings")
	_ = f.SetCellStyle(mappingSheet, "A1", "B1", headerStyle)
	_ = f.SetColWidth(mappingSheet, "A", "A", 20)

	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Strings(types)

	for i, t := range types {
		row := i + 2
		_ = f.SetCellValue(mappingSheet, fmt.Sprintf("A%d", row), t)
		_ = f.SetCellValue(mappingSheet, fmt.Sprintf("B%d", row), stats[t])
	}
}
