// Package preprocess turns raw transaction records into a canonical series.
package preprocess

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrMalformedRecord is returned for records the core cannot interpret.
	ErrMalformedRecord = errors.New("malformed transaction record")

	// ErrInvalidAmount is returned by ValidateAmounts for missing or zero amounts.
	ErrInvalidAmount = errors.New("invalid transaction amount")
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Preprocess coerces dates and amounts and sorts the records ascending by
// date. Records with equal dates keep their input order. Empty input yields
// an empty series.
func Preprocess(records []domain.RawRecord) (domain.Series, error) {
	series := make(domain.Series, 0, len(records))
	for i, rec := range records {
		tx, err := coerce(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		series = append(series, tx)
	}
	return sortSeries(series), nil
}

// Canonicalize builds a series from already typed transactions, as loaded
// from storage: normalized dates, stable sort, first occurrence of each
// unique_id kept.
func Canonicalize(txs []domain.Transaction) domain.Series {
	series := make(domain.Series, len(txs))
	for i, tx := range txs {
		tx.TransactionDate = truncateDate(tx.TransactionDate)
		if tx.Currency == "" {
			tx.Currency = domain.DefaultCurrency
		}
		series[i] = tx
	}
	return Dedupe(sortSeries(series))
}

// Dedupe drops records whose key repeats an earlier record, preserving the
// order of the kept records. The key defaults to unique_id.
func Dedupe(series domain.Series, subset ...string) domain.Series {
	if len(subset) == 0 {
		subset = []string{"unique_id"}
	}
	seen := make(map[string]struct{}, len(series))
	out := make(domain.Series, 0, len(series))
	for _, tx := range series {
		key := dedupeKey(tx, subset)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tx)
	}
	return out
}

// ValidateAmounts rejects records whose amount is missing or exactly zero.
func ValidateAmounts(records []domain.RawRecord) error {
	for _, rec := range records {
		id, _ := rec["unique_id"].(string)
		v, ok := rec["amount"]
		if !ok || v == nil {
			return fmt.Errorf("%w for record %s", ErrInvalidAmount, id)
		}
		amount, err := toDecimal(v)
		if err != nil || amount.IsZero() {
			return fmt.Errorf("%w for record %s", ErrInvalidAmount, id)
		}
	}
	return nil
}

func sortSeries(series domain.Series) domain.Series {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].TransactionDate.Before(series[j].TransactionDate)
	})
	return series
}

func dedupeKey(tx domain.Transaction, subset []string) string {
	var b strings.Builder
	for _, field := range subset {
		switch field {
		case "unique_id":
			b.WriteString(tx.UniqueID)
		case "category":
			b.WriteString(tx.Category)
		case "amount":
			b.WriteString(tx.Amount.String())
		case "currency":
			b.WriteString(tx.Currency)
		case "description":
			b.WriteString(tx.Description)
		case "transaction_date":
			b.WriteString(tx.TransactionDate.Format("2006-01-02"))
		}
		b.WriteByte(0)
	}
	return b.String()
}

func coerce(rec domain.RawRecord) (domain.Transaction, error) {
	id, ok := rec["unique_id"].(string)
	if !ok || id == "" {
		return domain.Transaction{}, fmt.Errorf("%w: unique_id is required", ErrMalformedRecord)
	}

	date, err := toDate(rec["transaction_date"])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %s: transaction_date: %v", ErrMalformedRecord, id, err)
	}

	amount, err := toDecimal(rec["amount"])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %s: amount: %v", ErrMalformedRecord, id, err)
	}

	tx := domain.Transaction{
		UniqueID:        id,
		Amount:          amount,
		Category:        stringField(rec, "category"),
		Description:     stringField(rec, "description"),
		Currency:        stringField(rec, "currency"),
		TransactionDate: date,
	}
	if tx.Currency == "" {
		tx.Currency = domain.DefaultCurrency
	}
	return tx, nil
}

func stringField(rec domain.RawRecord, key string) string {
	if s, ok := rec[key].(string); ok {
		return s
	}
	return ""
}

func toDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() {
			return time.Time{}, errors.New("zero date")
		}
		return truncateDate(d), nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return truncateDate(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", d)
	case nil:
		return time.Time{}, errors.New("missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch a := v.(type) {
	case decimal.Decimal:
		return a, nil
	case *decimal.Decimal:
		if a == nil {
			return decimal.Zero, errors.New("missing")
		}
		return *a, nil
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return decimal.Zero, fmt.Errorf("non-finite value %v", a)
		}
		return decimal.NewFromFloat(a), nil
	case float32:
		if f := float64(a); math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("non-finite value %v", a)
		}
		return decimal.NewFromFloat32(a), nil
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int64:
		return decimal.NewFromInt(a), nil
	case int32:
		return decimal.NewFromInt32(a), nil
	case json.Number:
		return decimal.NewFromString(a.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(a))
	case nil:
		return decimal.Zero, errors.New("missing")
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
