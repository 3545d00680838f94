package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brainsait/claimguard/internal/domain"
)

func testClaim() *domain.Claim {
	return &domain.Claim{
		ID:             "CLM-001",
		PhysicianID:    "DOC-001",
		PatientID:      "PAT-001",
		ServiceCode:    "SRV-001",
		ProcedureCodes: []string{"99213"},
		DiagnosisCodes: []string{"J45.9"},
		ServiceDate:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		BilledAmount:   6000,
		Complexity:     domain.ComplexityMedium,
		FacilityID:     "F1",
		PayerID:        "PAYER_A",
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "billed_amount > 100.0",
		Severity:   domain.IssueWarning,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule domain.RuleConfig
	}{
		{"InvalidCEL", domain.RuleConfig{ID: "invalid", Expression: "this is not valid CEL !!!"}},
		{"StringOutput", domain.RuleConfig{ID: "string-out", Expression: "payer_id"}},
		{"UnknownSeverity", domain.RuleConfig{ID: "bad-sev", Expression: "true", Severity: "FATAL"}},
		{"MissingID", domain.RuleConfig{Expression: "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.LoadRule(&tt.rule)
			if err == nil {
				t.Fatal("expected error")
			}
			if !domain.IsConfigError(err) {
				t.Errorf("expected ConfigError, got %T", err)
			}
		})
	}
}

func TestEvaluateBoolRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := domain.RuleConfig{
		ID:         "PAYER_A_PREAUTH",
		Expression: `payer_id == "PAYER_A" && billed_amount > 5000.0 && pre_auth_ref == ""`,
		Field:      "pre_auth_ref",
		Severity:   domain.IssueError,
		Message:    "pre-authorization required",
		Suggestion: "obtain pre-authorization",
		Enabled:    true,
	}
	if err := engine.LoadRules([]domain.RuleConfig{rule}); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	t.Run("Violated", func(t *testing.T) {
		issues := engine.Evaluate(context.Background(), testClaim())
		if len(issues) != 1 {
			t.Fatalf("expected 1 issue, got %d", len(issues))
		}
		got := issues[0]
		if got.RuleID != "PAYER_A_PREAUTH" || got.Severity != domain.IssueError || got.Field != "pre_auth_ref" {
			t.Errorf("unexpected issue: %+v", got)
		}
		if got.Suggestion != "obtain pre-authorization" {
			t.Errorf("expected suggestion to be carried, got %q", got.Suggestion)
		}
	})

	t.Run("Satisfied", func(t *testing.T) {
		c := testClaim()
		c.PreAuthRef = "PA-123"
		if issues := engine.Evaluate(context.Background(), c); len(issues) != 0 {
			t.Errorf("expected no issues, got %+v", issues)
		}
	})
}

func TestEvaluateBandedRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	zero, five, ten := 0.0, 5.0, 10.0
	rule := domain.RuleConfig{
		ID:         "code-count",
		Expression: "size(procedure_codes) + size(diagnosis_codes)",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &five},
			{LowerLimit: &five, UpperLimit: &ten, Severity: domain.IssueWarning, Message: "many codes"},
			{LowerLimit: &ten, Severity: domain.IssueError, Message: "too many codes"},
		},
		Enabled: true,
	}
	if err := engine.LoadRule(&rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tests := []struct {
		codes    int
		severity domain.IssueSeverity
	}{
		{2, ""},
		{6, domain.IssueWarning},
		{12, domain.IssueError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d codes", tt.codes), func(t *testing.T) {
			c := testClaim()
			c.ProcedureCodes = nil
			c.DiagnosisCodes = nil
			for i := 0; i < tt.codes; i++ {
				c.ProcedureCodes = append(c.ProcedureCodes, fmt.Sprintf("%05d", i))
			}

			issues := engine.Evaluate(context.Background(), c)
			if tt.severity == "" {
				if len(issues) != 0 {
					t.Errorf("expected pass, got %+v", issues)
				}
				return
			}
			if len(issues) != 1 || issues[0].Severity != tt.severity {
				t.Errorf("expected one %s issue, got %+v", tt.severity, issues)
			}
		})
	}
}

func TestEvaluateOrderedByRuleID(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()

	for _, id := range []string{"r-c", "r-a", "r-b"} {
		if err := engine.LoadRule(&domain.RuleConfig{ID: id, Expression: "true", Severity: domain.IssueInfo, Enabled: true}); err != nil {
			t.Fatalf("failed to load %s: %v", id, err)
		}
	}

	for i := 0; i < 20; i++ {
		issues := engine.Evaluate(context.Background(), testClaim())
		if len(issues) != 3 {
			t.Fatalf("expected 3 issues, got %d", len(issues))
		}
		if issues[0].RuleID != "r-a" || issues[1].RuleID != "r-b" || issues[2].RuleID != "r-c" {
			t.Fatalf("unexpected order: %s %s %s", issues[0].RuleID, issues[1].RuleID, issues[2].RuleID)
		}
	}
}

func TestAttributesAndListVariables(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "nphies-ref",
		Expression: `!("nphies_ref" in attributes) && "99213" in procedure_codes`,
		Severity:   domain.IssueWarning,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	c := testClaim()
	if issues := engine.Evaluate(context.Background(), c); len(issues) != 1 {
		t.Errorf("expected 1 issue without attribute, got %d", len(issues))
	}

	c.Attributes = map[string]string{"nphies_ref": "NP-1"}
	if issues := engine.Evaluate(context.Background(), c); len(issues) != 0 {
		t.Errorf("expected no issue with attribute, got %d", len(issues))
	}
}

func TestReloadRulesKeepsOldSetOnError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	good := domain.RuleConfig{ID: "good", Expression: "true", Enabled: true}
	if err := engine.ReloadRules([]domain.RuleConfig{good}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	bad := domain.RuleConfig{ID: "bad", Expression: "((", Enabled: true}
	if err := engine.ReloadRules([]domain.RuleConfig{good, bad}); err == nil {
		t.Fatal("expected reload error")
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected previous rule set to survive, got %d rules", engine.RulesCount())
	}

	disabled := domain.RuleConfig{ID: "off", Expression: "true", Enabled: false}
	if err := engine.ReloadRules([]domain.RuleConfig{disabled}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected disabled rules to be skipped, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.ValidateRule(&domain.RuleConfig{ID: "x", Expression: "billed_amount > 1.0"}); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("ValidateRule must not load, got %d rules", engine.RulesCount())
	}
	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestMerge(t *testing.T) {
	base := []domain.RuleConfig{
		{ID: "b", Expression: "true", Enabled: true},
		{ID: "a", Expression: "true", Enabled: true},
	}
	stored := []*domain.RuleConfig{
		{ID: "b", Expression: "false", Enabled: false},
		{ID: "c", Expression: "true", Enabled: true},
		nil,
	}

	got := Merge(base, stored)
	if len(got) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("expected id order a,b,c, got %s,%s,%s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[1].Enabled || got[1].Expression != "false" {
		t.Errorf("stored rule should replace the catalog rule, got %+v", got[1])
	}
}
