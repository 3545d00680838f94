package domain

// RuleConfig defines a configurable claim rule expressed in CEL.
// A bool expression raises an issue when true; a numeric expression is
// mapped through Bands.
type RuleConfig struct {
	ID          string `json:"id" mapstructure:"id"`
	TenantID    string `json:"tenantId" mapstructure:"tenant_id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	Version     string `json:"version" mapstructure:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression" mapstructure:"expression"`

	// Claim field the issue is attached to
	Field string `json:"field" mapstructure:"field"`

	// Severity and message for bool expressions
	Severity   IssueSeverity `json:"severity" mapstructure:"severity"`
	Message    string        `json:"message" mapstructure:"message"`
	Suggestion string        `json:"suggestion,omitempty" mapstructure:"suggestion"`

	// Outcome bands for numeric expressions
	Bands []RuleBand `json:"bands,omitempty" mapstructure:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// RuleBand maps a score range to an issue severity. An empty Severity means pass.
type RuleBand struct {
	LowerLimit *float64      `json:"lowerLimit,omitempty" mapstructure:"lower_limit"`
	UpperLimit *float64      `json:"upperLimit,omitempty" mapstructure:"upper_limit"`
	Severity   IssueSeverity `json:"severity,omitempty" mapstructure:"severity"`
	Message    string        `json:"message" mapstructure:"message"`
}
