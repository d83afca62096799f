// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Companies
	SaveCompany(ctx context.Context, tenantID string, company *Company) error
	GetCompany(ctx context.Context, tenantID string, companyID string) (*Company, error)

	// Transactions
	SaveTransactions(ctx context.Context, tenantID string, txs []Transaction) error
	ExistingTransactionIDs(ctx context.Context, tenantID string, uniqueIDs []string) (map[string]bool, error)
	ListTransactions(ctx context.Context, tenantID string, companyID string) ([]Transaction, error)

	// Analysis artifacts
	SaveRiskReport(ctx context.Context, tenantID string, report *StoredRiskReport) error
	GetRiskReport(ctx context.Context, tenantID string, reportID string) (*StoredRiskReport, error)
	SaveForecasts(ctx context.Context, tenantID string, forecasts []StoredForecast) error
	ListForecasts(ctx context.Context, tenantID string, companyID string) ([]StoredForecast, error)
	SaveSimulation(ctx context.Context, tenantID string, sim *StoredSimulation) error
	GetSimulation(ctx context.Context, tenantID string, simID string) (*StoredSimulation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
