package processor

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zerorag/zerorag/pkg/domain"
)

// typeSampleRows bounds how many data rows feed column type detection.
const typeSampleRows = 10

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	time.RFC3339,
}

// csvToText renders CSV data as descriptive prose: a summary of the table
// shape and column types, followed by one line per row naming each value
// with its column.
func csvToText(content string) (string, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("%w: malformed CSV: %v", domain.ErrDecode, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: CSV file has no rows", domain.ErrInvalidInput)
	}

	header := records[0]
	rows := records[1:]

	var sb strings.Builder
	sb.WriteString("CSV Document Analysis\n")
	sb.WriteString(fmt.Sprintf("Columns: %d (%s)\n", len(header), strings.Join(header, ", ")))
	sb.WriteString(fmt.Sprintf("Data rows: %d\n", len(rows)))

	types := detectColumnTypes(header, rows)
	for i, col := range header {
		sb.WriteString(fmt.Sprintf("Column %s: %s\n", col, types[i]))
	}
	sb.WriteString("\n")

	for i, row := range rows {
		var parts []string
		for j, value := range row {
			name := fmt.Sprintf("column_%d", j+1)
			if j < len(header) {
				name = header[j]
			}
			parts = append(parts, fmt.Sprintf("%s=%s", name, value))
		}
		sb.WriteString(fmt.Sprintf("Row %d: %s\n", i+1, strings.Join(parts, ", ")))
	}

	return sb.String(), nil
}

// detectColumnTypes samples leading rows and classifies each column as
// integer, float, date or string.
func detectColumnTypes(header []string, rows [][]string) []string {
	types := make([]string, len(header))

	for col := range header {
		var values []string
		for i, row := range rows {
			if i >= typeSampleRows {
				break
			}
			if col < len(row) && strings.TrimSpace(row[col]) != "" {
				values = append(values, strings.TrimSpace(row[col]))
			}
		}
		types[col] = classifyValues(values)
	}

	return types
}

func classifyValues(values []string) string {
	if len(values) == 0 {
		return "string"
	}

	allInt, allFloat, allDate := true, true, true
	for _, v := range values {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
		}
		if !isDate(v) {
			allDate = false
		}
	}

	switch {
	case allInt:
		return "integer"
	case allFloat:
		return "float"
	case allDate:
		return "date"
	default:
		return "string"
	}
}

func isDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
