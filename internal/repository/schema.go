package repository

// Schema definitions for the ClaimGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    claims_analyzed INTEGER NOT NULL,
    total_alerts INTEGER NOT NULL,
    blocked INTEGER NOT NULL,
    flagged INTEGER NOT NULL,
    high_risk_physicians INTEGER NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_reports_tenant ON reports(tenant_id);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(tenant_id, created_at);
`

const schemaPhysicianRisks = `
CREATE TABLE IF NOT EXISTS physician_risks (
    report_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    physician_id TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    alert_count INTEGER NOT NULL,
    claim_count INTEGER NOT NULL,
    requires_investigation INTEGER NOT NULL DEFAULT 0,
    requires_training INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (report_id, tenant_id, physician_id)
);

CREATE INDEX IF NOT EXISTS idx_physician_risks_physician ON physician_risks(tenant_id, physician_id, generated_at);
`

// schemaHistoricalClaims stores adjudicated claims used as baselines.
// service_date is an ISO date string so range filters compare lexically.
const schemaHistoricalClaims = `
CREATE TABLE IF NOT EXISTS historical_claims (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    physician_id TEXT NOT NULL,
    service_code TEXT NOT NULL,
    complexity_level TEXT NOT NULL,
    service_date TEXT NOT NULL,
    billed_amount REAL NOT NULL,
    outcome TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_historical_claims_date ON historical_claims(tenant_id, service_date);
CREATE INDEX IF NOT EXISTS idx_historical_claims_service ON historical_claims(tenant_id, service_code, complexity_level);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    field TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    suggestion TEXT NOT NULL DEFAULT '',
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReports,
		schemaPhysicianRisks,
		schemaHistoricalClaims,
		schemaRuleConfigs,
	}
}
