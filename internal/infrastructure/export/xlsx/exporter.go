package xlsx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

const (
	resultsSheet = "Results"
	batchSheet   = "Batch"
)

// Exporter collects the results of the current batch and writes one workbook per batch.
type Exporter struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	batchID domain.ID
	results []domain.FileResult
	written []string
}

func NewExporter(dir string, logger *slog.Logger) (*Exporter, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{dir: dir, logger: logger}, nil
}

func (e *Exporter) BatchStarted(batchID domain.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchID = batchID
	e.results = nil
}

func (e *Exporter) Result(result domain.FileResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, result)
}

func (e *Exporter) BatchFinished(session domain.BatchSession) {
	e.mu.Lock()
	results := append([]domain.FileResult(nil), e.results...)
	e.mu.Unlock()

	path := filepath.Join(e.dir, workbookName(session.BatchID))
	if err := e.save(path, session, results); err != nil {
		e.logger.Error("xlsx_export_failed", "batch_id", session.BatchID.String(), "path", path, "error", err)
		return
	}
	e.logger.Info("xlsx_export_written", "batch_id", session.BatchID.String(), "path", path, "rows", len(results))

	e.mu.Lock()
	e.written = append(e.written, path)
	e.mu.Unlock()
}

// Written lists the workbooks saved so far.
func (e *Exporter) Written() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.written...)
}

func (e *Exporter) save(path string, session domain.BatchSession, results []domain.FileResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	if err := Write(f, session, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func workbookName(batchID domain.ID) string {
	id := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, batchID.String())
	if id == "" {
		id = "batch"
	}
	return "cv-results-" + id + ".xlsx"
}

// Header returns the column titles of the results sheet.
func Header() []string {
	header := []string{"File", "File ID", "Status"}
	for _, field := range domain.ExtractedFieldKeys() {
		header = append(header, field.Label)
	}
	return append(header, "Web summary", "Error", "Steps")
}

func row(result domain.FileResult) []any {
	values := map[string]string{}
	for _, field := range result.ExtractedFields() {
		values[field.Key] = field.Value
	}

	out := []any{result.Filename, result.FileID.String(), result.StatusFinal}
	for _, field := range domain.ExtractedFieldKeys() {
		out = append(out, values[field.Key])
	}
	return append(out, result.WebSummary, result.ErrorMessage, formatSteps(result.Steps))
}

func formatSteps(steps map[string]any) string {
	if len(steps) == 0 {
		return ""
	}
	keys := make([]string, 0, len(steps))
	for k := range steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := steps[k].(string)
		if !ok {
			raw, _ := json.Marshal(steps[k])
			v = string(raw)
		}
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, "\n")
}

// Write renders the batch summary and one row per result as an xlsx workbook.
func Write(w io.Writer, session domain.BatchSession, results []domain.FileResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := Header()
	if err := writeRow(f, resultsSheet, 1, toAny(header)); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(resultsSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetColWidth(resultsSheet, "A", lastCol, 24); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	if err := f.SetPanes(resultsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	for i, result := range results {
		if err := writeRow(f, resultsSheet, i+2, row(result)); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(batchSheet); err != nil {
		return fmt.Errorf("create batch sheet: %w", err)
	}
	summary := [][]any{
		{"Batch ID", session.BatchID.String()},
		{"Phase", string(session.Phase)},
		{"Files", session.FileCount},
		{"Results", len(results)},
		{"AI usage limit reached", session.HadQuotaError},
	}
	for i, values := range summary {
		if err := writeRow(f, batchSheet, i+1, values); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(batchSheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style batch sheet: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("row %d: %w", rowNum, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
