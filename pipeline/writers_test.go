package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

func testReport() *models.SessionReport {
	price := 149.5
	return &models.SessionReport{
		Site: &models.Site{Name: "Shop"},
		Session: &models.Session{
			RunID:     "run-1",
			StartedAt: time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
		},
		Items: []models.ItemResult{
			{URL: "http://example.test/p/1", Name: "Gecko hide", Status: models.ItemScraped, Category: "Decor", Confidence: 0.4, Price: &price},
			{URL: "http://example.test/p/2", Status: models.ItemFailed, Error: "product name not found"},
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "items.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(testReport()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "site" || records[0][3] != "status" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][3] != "scraped" || records[1][7] != "149.50" || records[1][6] != "0.40" {
		t.Fatalf("unexpected row: %v", records[1])
	}
	if records[2][7] != "" || records[2][8] != "product name not found" {
		t.Fatalf("unexpected row: %v", records[2])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.jsonl")

	writer, err := NewReportWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if _, ok := writer.(*JSONWriter); !ok {
		t.Fatalf("writer = %T, want *JSONWriter", writer)
	}
	if err := writer.Write(testReport()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var rows []ReportRow
	for scanner.Scan() {
		var decoded ReportRow
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		rows = append(rows, decoded)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("json lines=%d, want 2", len(rows))
	}
	if rows[0].RunID != "run-1" || rows[0].Site != "Shop" || rows[1].Status != "failed" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestRowsNilReport(t *testing.T) {
	if rows := Rows(nil); rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
	if rows := Rows(&models.SessionReport{}); rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
}
