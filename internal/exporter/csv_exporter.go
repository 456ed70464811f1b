package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"todoapp/internal/todos"
)

// SchemaVersion identifies the CSV export format version.
const SchemaVersion = "1"

var csvColumns = []string{
	"schemaVersion",
	"id",
	"text",
	"completed",
	"createdAt",
}

// CSVExporter writes a todo collection as CSV.
type CSVExporter struct{}

func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes a header row followed by one row per item, in collection order.
func (e *CSVExporter) Export(w io.Writer, list []todos.Item) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, item := range list {
		if err := writer.Write(itemToRow(item)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func itemToRow(item todos.Item) []string {
	return []string{
		SchemaVersion,
		item.ID,
		item.Text,
		strconv.FormatBool(item.Completed),
		formatTime(item.CreatedAt),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
