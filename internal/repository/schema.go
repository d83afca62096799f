package repository

// Schema for the Kestrel database. Statements run on both SQLite and
// PostgreSQL; amounts are stored as decimal strings and calendar dates as
// YYYY-MM-DD text so neither driver rounds or shifts them.

const schemaCompanies = `
CREATE TABLE IF NOT EXISTS companies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    industry TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    unique_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    transaction_date TEXT NOT NULL,
    amount TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT,
    currency TEXT NOT NULL DEFAULT 'USD',
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, unique_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions(tenant_id, company_id, transaction_date);
`

const schemaRiskReports = `
CREATE TABLE IF NOT EXISTS risk_reports (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    scores TEXT NOT NULL,
    survival_probability REAL NOT NULL,
    summary TEXT NOT NULL,
    report_payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_reports_company ON risk_reports(tenant_id, company_id, created_at);
`

const schemaForecasts = `
CREATE TABLE IF NOT EXISTS forecasts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    model_used TEXT NOT NULL,
    horizon_days INTEGER NOT NULL,
    revenue_projection REAL NOT NULL,
    expense_projection REAL NOT NULL,
    runway_days INTEGER NOT NULL,
    position INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_forecasts_company ON forecasts(tenant_id, company_id, created_at);
`

const schemaSimulations = `
CREATE TABLE IF NOT EXISTS simulations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    insolvency_probability REAL NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulations_company ON simulations(tenant_id, company_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCompanies,
		schemaTransactions,
		schemaRiskReports,
		schemaForecasts,
		schemaSimulations,
	}
}
