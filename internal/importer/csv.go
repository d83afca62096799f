// Package importer reads transaction exports into canonical series.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

// Column names recognised in the header row.
const (
	ColUniqueID        = "unique_id"
	ColTransactionDate = "transaction_date"
	ColAmount          = "amount"
	ColCategory        = "category"
	ColDescription     = "description"
	ColCurrency        = "currency"
)

var requiredColumns = []string{ColUniqueID, ColTransactionDate, ColAmount, ColCategory}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

const dateFormat = "2006-01-02"

// Parse reads a CSV with a header row into raw records. Columns may appear
// in any order; unknown columns are ignored.
func Parse(r io.Reader) ([]domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	cr.FieldsPerRecord = len(header)

	var records []domain.RawRecord
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}

		raw, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		records = append(records, raw)
	}
	return records, nil
}

func parseRow(rec []string, cols map[string]int) (domain.RawRecord, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := time.Parse(dateFormat, field(ColTransactionDate))
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", field(ColTransactionDate), err)
	}

	amount, err := decimal.NewFromString(field(ColAmount))
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", field(ColAmount), err)
	}

	return domain.RawRecord{
		ColUniqueID:        field(ColUniqueID),
		ColTransactionDate: date,
		ColAmount:          amount,
		ColCategory:        field(ColCategory),
		ColDescription:     field(ColDescription),
		ColCurrency:        field(ColCurrency),
	}, nil
}

// Load parses the CSV at path, rejects zero amounts and returns the
// canonical series. Repeated unique_id rows keep their first occurrence.
func Load(path string) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}

// Read is Load over an open reader.
func Read(r io.Reader) (domain.Series, error) {
	records, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if err := preprocess.ValidateAmounts(records); err != nil {
		return nil, err
	}
	series, err := preprocess.Preprocess(records)
	if err != nil {
		return nil, err
	}
	return preprocess.Dedupe(series), nil
}
