// Package rules provides the CEL-Go based claim rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/brainsait/claimguard/internal/domain"
)

// Engine is the CEL-based claim rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	// Create CEL environment with claim variables
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claim_id", cel.StringType),
		cel.Variable("physician_id", cel.StringType),
		cel.Variable("patient_id", cel.StringType),
		cel.Variable("service_code", cel.StringType),
		cel.Variable("facility_id", cel.StringType),
		cel.Variable("payer_id", cel.StringType),
		cel.Variable("pre_auth_ref", cel.StringType),
		cel.Variable("complexity", cel.StringType),
		cel.Variable("billed_amount", cel.DoubleType),
		cel.Variable("procedure_codes", cel.ListType(cel.StringType)),
		cel.Variable("diagnosis_codes", cel.ListType(cel.StringType)),
		cel.Variable("service_date", cel.StringType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []domain.RuleConfig) error {
	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}
		if err := e.LoadRule(&cfg); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs every loaded rule against a claim and returns the raised
// issues ordered by rule id.
func (e *Engine) Evaluate(ctx context.Context, claim *domain.Claim) []domain.ValidationIssue {
	rules := e.sortedRules()
	if len(rules) == 0 {
		return nil
	}

	activation := Activation(claim)

	// Parallel evaluation using worker pool pattern
	results := make([]*domain.ValidationIssue, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	var issues []domain.ValidationIssue
	for _, issue := range results {
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}

// Activation builds the CEL variables for a claim.
func Activation(c *domain.Claim) map[string]any {
	procedures := c.ProcedureCodes
	if procedures == nil {
		procedures = []string{}
	}
	diagnoses := c.DiagnosisCodes
	if diagnoses == nil {
		diagnoses = []string{}
	}
	attributes := c.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	date := ""
	if !c.ServiceDate.IsZero() {
		date = c.DateKey()
	}

	return map[string]any{
		"claim": map[string]any{
			"id":               c.ID,
			"physician_id":     c.PhysicianID,
			"patient_id":       c.PatientID,
			"service_code":     c.ServiceCode,
			"facility_id":      c.FacilityID,
			"billed_amount":    c.BilledAmount,
			"complexity_level": string(c.Complexity),
		},
		"claim_id":        c.ID,
		"physician_id":    c.PhysicianID,
		"patient_id":      c.PatientID,
		"service_code":    c.ServiceCode,
		"facility_id":     c.FacilityID,
		"payer_id":        c.PayerID,
		"pre_auth_ref":    c.PreAuthRef,
		"complexity":      string(c.Complexity),
		"billed_amount":   c.BilledAmount,
		"procedure_codes": procedures,
		"diagnosis_codes": diagnoses,
		"service_date":    date,
		"day_of_week":     int64(c.ServiceDate.Weekday()),
		"attributes":      attributes,
	}
}

// evaluateRule evaluates a single rule and returns the raised issue, if any.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) *domain.ValidationIssue {
	cfg := rule.Config
	field := cfg.Field
	if field == "" {
		field = "claim"
	}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		return &domain.ValidationIssue{
			Field:    field,
			RuleID:   cfg.ID,
			Severity: domain.IssueInfo,
			Message:  fmt.Sprintf("rule could not be evaluated: %v", err),
		}
	}

	score := toScore(out)

	if len(cfg.Bands) == 0 {
		if score <= 0 {
			return nil
		}
		severity := cfg.Severity
		if severity == "" {
			severity = domain.IssueError
		}
		return &domain.ValidationIssue{
			Field:      field,
			RuleID:     cfg.ID,
			Severity:   severity,
			Message:    cfg.Message,
			Suggestion: cfg.Suggestion,
		}
	}

	// Determine outcome based on bands
	severity, message := matchBand(score, cfg.Bands)
	if severity == "" {
		return nil
	}
	return &domain.ValidationIssue{
		Field:      field,
		RuleID:     cfg.ID,
		Severity:   severity,
		Message:    message,
		Suggestion: cfg.Suggestion,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score.
// Bands are evaluated in order. Use lower inclusive, upper exclusive,
// except when upper is nil (meaning infinity).
func matchBand(score float64, bands []domain.RuleBand) (domain.IssueSeverity, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9) // effectively infinity

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		// Match: lower <= score < upper (or lower <= score if no upper bound)
		if score >= lower && (!hasUpper || score < upper) {
			return band.Severity, band.Message
		}
	}

	// No band matched: pass
	return "", ""
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// Nothing changes if any rule fails to compile.
func (e *Engine) ReloadRules(configs []domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(&cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations, sorted by id.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.sortedRules()
	out := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		out[i] = r.Config
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, &domain.ConfigError{Component: "rules", Reason: "rule id is required"}
	}
	switch cfg.Severity {
	case "", domain.IssueInfo, domain.IssueWarning, domain.IssueError:
	default:
		return nil, &domain.ConfigError{Component: "rules", Field: cfg.ID, Reason: fmt.Sprintf("unknown severity %q", cfg.Severity)}
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigError{Component: "rules", Field: cfg.ID, Reason: "failed to compile", Err: issues.Err()}
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, &domain.ConfigError{
			Component: "rules",
			Field:     cfg.ID,
			Reason:    fmt.Sprintf("expression must return bool, int, or double, got %s", outputType),
		}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, &domain.ConfigError{Component: "rules", Field: cfg.ID, Reason: "failed to create program", Err: err}
	}

	stored := *cfg
	return &CompiledRule{
		Config:  &stored,
		Program: program,
	}, nil
}

// Merge overlays stored rules on the catalog rules. A stored rule replaces
// the catalog rule with the same id. The result is ordered by id.
func Merge(base []domain.RuleConfig, stored []*domain.RuleConfig) []domain.RuleConfig {
	byID := make(map[string]domain.RuleConfig, len(base)+len(stored))
	for _, r := range base {
		byID[r.ID] = r
	}
	for _, r := range stored {
		if r != nil {
			byID[r.ID] = *r
		}
	}

	out := make([]domain.RuleConfig, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
