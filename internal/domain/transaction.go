package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is applied to records that arrive without a currency.
const DefaultCurrency = "USD"

// Well-known categories referenced by the rule engine and the scorer.
const (
	CategoryRevenue            = "revenue"
	CategoryRent               = "rent"
	CategoryUtilities          = "utilities"
	CategorySubscriptions      = "subscriptions"
	CategoryAccountsReceivable = "accounts_receivable"
)

// Transaction is a single ledger movement for a company.
// Positive amounts are inflows, negative amounts are outflows.
type Transaction struct {
	UniqueID        string          `json:"unique_id"`
	TenantID        string          `json:"-"`
	CompanyID       string          `json:"company_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category"`
	Description     string          `json:"description,omitempty"`
	Currency        string          `json:"currency"`
	TransactionDate time.Time       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
}

// AmountFloat returns the amount as a float64 for statistical work.
func (t Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// Raw converts the transaction back into the loosely typed record shape
// accepted by the preprocessor.
func (t Transaction) Raw() RawRecord {
	return RawRecord{
		"unique_id":        t.UniqueID,
		"amount":           t.Amount,
		"category":         t.Category,
		"description":      t.Description,
		"currency":         t.Currency,
		"transaction_date": t.TransactionDate,
	}
}

// RawRecord is an uncoerced transaction as it arrives from storage,
// an ingest request or a CSV file.
type RawRecord map[string]any

// Series is a canonical transaction sequence: sorted ascending by date
// and unique by UniqueID. It is never mutated after construction.
type Series []Transaction

// Empty reports whether the series holds no transactions.
func (s Series) Empty() bool { return len(s) == 0 }

// Amounts returns the amounts in series order.
func (s Series) Amounts() []float64 {
	out := make([]float64, len(s))
	for i, tx := range s {
		out[i] = tx.AmountFloat()
	}
	return out
}

// Total returns the exact decimal sum of all amounts.
func (s Series) Total() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s {
		total = total.Add(tx.Amount)
	}
	return total
}

// Latest returns the most recent transaction date, or the zero time.
func (s Series) Latest() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].TransactionDate
}

// MonthlyTotal is the net cash flow of one calendar month.
type MonthlyTotal struct {
	Month time.Time
	Net   float64
}

// Monthly sums amounts per calendar month, in chronological order. Months
// without transactions are absent.
func (s Series) Monthly() []MonthlyTotal {
	var out []MonthlyTotal
	index := make(map[time.Time]int)
	for _, tx := range s {
		y, m, _ := tx.TransactionDate.Date()
		month := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		i, ok := index[month]
		if !ok {
			i = len(out)
			index[month] = i
			out = append(out, MonthlyTotal{Month: month})
		}
		out[i].Net += tx.AmountFloat()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// Company is the owner of a transaction history.
type Company struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CompanyRequest is the API payload for POST /companies.
type CompanyRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Industry string `json:"industry,omitempty" validate:"max=128"`
}

// IngestRequest is the API payload for POST /ingest/transactions.
type IngestRequest struct {
	CompanyID string         `json:"company_id" validate:"required"`
	Records   []IngestRecord `json:"records" validate:"required,min=1,dive"`
}

// IngestRecord is one transaction inside an IngestRequest.
// Amount is a pointer so a missing value can be told apart from zero.
type IngestRecord struct {
	UniqueID        string           `json:"unique_id" validate:"required,max=128"`
	TransactionDate string           `json:"transaction_date" validate:"required"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        string           `json:"category" validate:"required,max=64"`
	Description     string           `json:"description,omitempty"`
	Currency        string           `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// Raw converts the record into the preprocessor's input shape.
func (r IngestRecord) Raw() RawRecord {
	raw := RawRecord{
		"unique_id":        r.UniqueID,
		"transaction_date": r.TransactionDate,
		"category":         r.Category,
		"description":      r.Description,
		"currency":         r.Currency,
	}
	if r.Amount != nil {
		raw["amount"] = *r.Amount
	}
	return raw
}
