package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// ReportWriter exports session reports.
type ReportWriter interface {
	Write(report *models.SessionReport) error
	Close() error
}

// ReportRow is one processed candidate of a session report.
type ReportRow struct {
	Site       string    `json:"site"`
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Name       string    `json:"name,omitempty"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Price      *float64  `json:"price,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Rows flattens a report into one row per item.
func Rows(report *models.SessionReport) []ReportRow {
	if report == nil || report.Site == nil || report.Session == nil {
		return nil
	}
	rows := make([]ReportRow, 0, len(report.Items))
	for _, item := range report.Items {
		rows = append(rows, ReportRow{
			Site:       report.Site.Name,
			RunID:      report.Session.RunID,
			URL:        item.URL,
			Status:     string(item.Status),
			Name:       item.Name,
			Category:   item.Category,
			Confidence: item.Confidence,
			Price:      item.Price,
			Error:      item.Error,
			StartedAt:  report.Session.StartedAt,
		})
	}
	return rows
}

// CSVWriter writes report rows to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"site", "run_id", "url", "status", "name", "category", "confidence", "price", "error", "started_at"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends the report's items to the CSV output.
func (cw *CSVWriter) Write(report *models.SessionReport) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range Rows(report) {
		price := ""
		if row.Price != nil {
			price = strconv.FormatFloat(*row.Price, 'f', 2, 64)
		}
		confidence := ""
		if row.Category != "" {
			confidence = strconv.FormatFloat(row.Confidence, 'f', 2, 64)
		}
		record := []string{
			row.Site,
			row.RunID,
			row.URL,
			row.Status,
			row.Name,
			row.Category,
			confidence,
			price,
			row.Error,
			row.StartedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter writes newline-delimited JSON rows.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends the report's items in JSONL format.
func (jw *JSONWriter) Write(report *models.SessionReport) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range Rows(report) {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// NewReportWriter opens a writer chosen by the file extension: .csv for
// CSV, anything else for JSONL.
func NewReportWriter(filename string) (ReportWriter, error) {
	if filepath.Ext(filename) == ".csv" {
		w, err := NewCSVWriter(filename)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	w, err := NewJSONWriter(filename)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
