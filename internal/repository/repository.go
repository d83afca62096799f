// Package repository persists companies, transactions and analysis
// artifacts in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// dateLayout is how calendar dates are stored.
const dateLayout = "2006-01-02"

// lookupChunk bounds the number of placeholders in one IN clause.
const lookupChunk = 500

// SQLRepository implements domain.Repository over database/sql.
// The same queries serve SQLite and PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveCompany inserts a company, assigning an ID and creation time when unset.
func (r *SQLRepository) SaveCompany(ctx context.Context, tenantID string, company *domain.Company) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if company.Name == "" {
		return fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	if company.ID == "" {
		company.ID = uuid.New().String()
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = r.now()
	}
	company.TenantID = tenantID

	query := `
		INSERT INTO companies (id, tenant_id, name, industry, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		company.ID, tenantID, company.Name, company.Industry, company.CreatedAt,
	)
	return err
}

// GetCompany returns ErrNotFound for unknown or foreign companies.
func (r *SQLRepository) GetCompany(ctx context.Context, tenantID string, companyID string) (*domain.Company, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, COALESCE(industry, ''), created_at
		FROM companies
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Company
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, companyID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Industry, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveTransactions stores txs in one database transaction. Rows whose
// unique_id already exists for the tenant are left untouched.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO transactions (
			unique_id, tenant_id, company_id, transaction_date,
			amount, category, description, currency, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, unique_id) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := r.now()
	for _, tx := range txs {
		if tx.UniqueID == "" || tx.CompanyID == "" {
			return fmt.Errorf("%w: transaction requires unique_id and company_id", ErrInvalidInput)
		}
		createdAt := tx.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		currency := tx.Currency
		if currency == "" {
			currency = domain.DefaultCurrency
		}
		if _, err := stmt.ExecContext(ctx,
			tx.UniqueID, tenantID, tx.CompanyID, tx.TransactionDate.Format(dateLayout),
			tx.Amount.String(), tx.Category, tx.Description, currency, createdAt,
		); err != nil {
			return fmt.Errorf("insert transaction %s: %w", tx.UniqueID, err)
		}
	}
	return dbTx.Commit()
}

// ExistingTransactionIDs reports which of uniqueIDs are already stored for
// the tenant.
func (r *SQLRepository) ExistingTransactionIDs(ctx context.Context, tenantID string, uniqueIDs []string) (map[string]bool, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	existing := make(map[string]bool)
	for start := 0; start < len(uniqueIDs); start += lookupChunk {
		chunk := uniqueIDs[start:min(start+lookupChunk, len(uniqueIDs))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, tenantID)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := `SELECT unique_id FROM transactions WHERE tenant_id = ? AND unique_id IN (` +
			strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + `)`

		if err := r.collect(ctx, query, args, func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			existing[id] = true
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// ListTransactions returns a company's transactions ordered by date.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, companyID string) ([]domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT unique_id, tenant_id, company_id, transaction_date, amount,
			   category, COALESCE(description, ''), currency, created_at
		FROM transactions
		WHERE tenant_id = ? AND company_id = ?
		ORDER BY transaction_date, created_at, unique_id
	`

	var txs []domain.Transaction
	err := r.collect(ctx, query, []any{tenantID, companyID}, func(rows *sql.Rows) error {
		var tx domain.Transaction
		var date string
		if err := rows.Scan(
			&tx.UniqueID, &tx.TenantID, &tx.CompanyID, &date, &tx.Amount,
			&tx.Category, &tx.Description, &tx.Currency, &tx.CreatedAt,
		); err != nil {
			return err
		}
		parsed, err := time.Parse(dateLayout, date)
		if err != nil {
			return fmt.Errorf("transaction %s: bad date %q: %w", tx.UniqueID, date, err)
		}
		tx.TransactionDate = parsed
		txs = append(txs, tx)
		return nil
	})
	return txs, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// collect runs query and hands every row to scan.
func (r *SQLRepository) collect(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
