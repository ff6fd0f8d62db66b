package parsers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/security/validation"
)

// CSVRowParser reads a spreadsheet export with a header row. Each data row
// becomes a RawTrade keyed by the normalized header; empty cells are omitted.
type CSVRowParser struct{}

func NewCSVRowParser() *CSVRowParser {
	return &CSVRowParser{}
}

func (p *CSVRowParser) Parse(file io.Reader) ([]models.RawTrade, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrParsingFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrParsingFailed, err)
	}

	columns := make([]string, len(header))
	named := 0
	for i, h := range header {
		columns[i] = validation.NormalizeFieldName(h)
		if columns[i] != "" {
			named++
		}
	}
	if named == 0 {
		return nil, fmt.Errorf("%w: CSV header has no column names", ErrParsingFailed)
	}

	rows := []models.RawTrade{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParsingFailed, line, err)
		}

		row := models.RawTrade{}
		for i, cell := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			value := strings.TrimSpace(validation.StripUnprintable(cell))
			if value == "" {
				continue
			}
			row[columns[i]] = value
		}
		// Blank rows are passed on as empty trades so they surface as
		// validation errors in the batch report instead of vanishing.
		if len(row) == 0 {
			logger.L.Debug("Blank CSV row kept for validation", "line", line)
		}
		rows = append(rows, row)
	}

	logger.L.Debug("CSV rows parsed", "rows", len(rows), "columns", named)
	return rows, nil
}
