// Package validator checks a single claim against the Rule Catalog.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/domain"
)

// Rule identifiers emitted by the validator.
const (
	RuleRequiredField     = "REQUIRED_FIELD"
	RuleDiagnosisFormat   = "DIAGNOSIS_CODE_FORMAT"
	RuleDiagnosisUnknown  = "DIAGNOSIS_CODE_UNKNOWN"
	RuleProcedureFormat   = "PROCEDURE_CODE_FORMAT"
	RuleProcedureUnknown  = "PROCEDURE_CODE_UNKNOWN"
	RuleFutureServiceDate = "SERVICE_DATE_FUTURE"
	RuleMonetaryTotal     = "MONETARY_TOTAL"
	RuleMonetaryVATRate   = "MONETARY_VAT_RATE"
	RuleMinimumDataSet    = "MDS_REQUIRED_FIELD"
	RuleClaimAmountRange  = "CLAIM_AMOUNT_RANGE"
	RuleDiagnosisCount    = "DIAGNOSIS_CODE_COUNT"
	RuleProcedureCount    = "PROCEDURE_CODE_COUNT"
	RulePatientIDFormat   = "PATIENT_ID_FORMAT"
)

// RuleEvaluator evaluates configurable extension rules.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, claim *domain.Claim) []domain.ValidationIssue
}

// Validator runs the structural checks followed by extension rules.
type Validator struct {
	catalog *catalog.Catalog
	rules   RuleEvaluator
}

// New creates a validator. rules may be nil.
func New(cat *catalog.Catalog, rules RuleEvaluator) *Validator {
	return &Validator{catalog: cat, rules: rules}
}

// Validate returns the ordered issues for claim as of asOf.
func (v *Validator) Validate(ctx context.Context, claim *domain.Claim, asOf time.Time) []domain.ValidationIssue {
	issues := Structural(claim, v.catalog, asOf)
	if v.rules != nil {
		issues = append(issues, v.rules.Evaluate(ctx, claim)...)
	}
	return issues
}

// Structural runs the fixed-order catalog checks. It has no side effects.
func Structural(claim *domain.Claim, cat *catalog.Catalog, asOf time.Time) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	issues = checkRequired(issues, claim, cat)
	issues = checkCodes(issues, claim, cat)
	issues = checkServiceDate(issues, claim, asOf)
	issues = checkMonetary(issues, claim, cat)
	issues = checkMinimumDataSet(issues, claim, cat)
	issues = checkAmountRange(issues, claim, cat)
	issues = checkCodeCounts(issues, claim, cat)
	issues = checkPatientID(issues, claim, cat)
	return issues
}

func checkRequired(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	for _, field := range cat.RequiredFields() {
		if _, ok := c.FieldValue(field); !ok {
			issues = append(issues, domain.ValidationIssue{
				Field:      field,
				RuleID:     RuleRequiredField,
				Severity:   domain.IssueError,
				Message:    fmt.Sprintf("%s is required", field),
				Suggestion: fmt.Sprintf("Provide %s", field),
			})
		}
	}
	return issues
}

func checkCodes(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	for i, code := range c.DiagnosisCodes {
		field := fmt.Sprintf("diagnosis_codes[%d]", i)
		switch {
		case !cat.ValidDiagnosisFormat(code):
			issues = append(issues, domain.ValidationIssue{
				Field:      field,
				RuleID:     RuleDiagnosisFormat,
				Severity:   domain.IssueError,
				Message:    fmt.Sprintf("diagnosis code %q does not match %s", code, cat.DiagnosisPattern()),
				Suggestion: "Use ICD-10 format, e.g. J45.9",
			})
		case !cat.KnownDiagnosis(code):
			issues = append(issues, domain.ValidationIssue{
				Field:    field,
				RuleID:   RuleDiagnosisUnknown,
				Severity: domain.IssueError,
				Message:  fmt.Sprintf("diagnosis code %q is not in the accepted code set", code),
			})
		}
	}
	for i, code := range c.ProcedureCodes {
		field := fmt.Sprintf("procedure_codes[%d]", i)
		switch {
		case !cat.ValidProcedureFormat(code):
			issues = append(issues, domain.ValidationIssue{
				Field:      field,
				RuleID:     RuleProcedureFormat,
				Severity:   domain.IssueError,
				Message:    fmt.Sprintf("procedure code %q does not match %s", code, cat.ProcedurePattern()),
				Suggestion: "Use a 5-digit procedure code",
			})
		case !cat.KnownProcedure(code):
			issues = append(issues, domain.ValidationIssue{
				Field:    field,
				RuleID:   RuleProcedureUnknown,
				Severity: domain.IssueError,
				Message:  fmt.Sprintf("procedure code %q is not in the accepted code set", code),
			})
		}
	}
	return issues
}

func checkServiceDate(issues []domain.ValidationIssue, c *domain.Claim, asOf time.Time) []domain.ValidationIssue {
	if asOf.IsZero() || c.ServiceDate.IsZero() {
		return issues
	}
	asOf = asOf.UTC()
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	if c.ServiceDate.After(today) {
		issues = append(issues, domain.ValidationIssue{
			Field:    "service_date",
			RuleID:   RuleFutureServiceDate,
			Severity: domain.IssueWarning,
			Message:  fmt.Sprintf("service date %s is after %s", c.DateKey(), today.Format(domain.DateLayout)),
		})
	}
	return issues
}

func checkMonetary(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	b := c.Breakdown
	if b == nil {
		return issues
	}
	net := decimal.NewFromFloat(b.Net)
	vat := decimal.NewFromFloat(b.VAT)
	total := decimal.NewFromFloat(b.Total)
	tolerance := decimal.NewFromFloat(cat.MonetaryTolerance())

	if diff := net.Add(vat).Sub(total).Abs(); diff.GreaterThan(tolerance) {
		issues = append(issues, domain.ValidationIssue{
			Field:      "total",
			RuleID:     RuleMonetaryTotal,
			Severity:   domain.IssueError,
			Message:    fmt.Sprintf("total %s does not equal net %s + vat %s", total.StringFixed(2), net.StringFixed(2), vat.StringFixed(2)),
			Suggestion: fmt.Sprintf("Set total to %s", net.Add(vat).StringFixed(2)),
		})
	}

	rate := decimal.NewFromFloat(cat.VATRate())
	expected := net.Mul(rate)
	if vat.Sub(expected).Abs().GreaterThan(tolerance) {
		issues = append(issues, domain.ValidationIssue{
			Field:      "vat",
			RuleID:     RuleMonetaryVATRate,
			Severity:   domain.IssueError,
			Message:    fmt.Sprintf("vat %s does not match the %s%% rate on net %s", vat.StringFixed(2), rate.Shift(2).String(), net.StringFixed(2)),
			Suggestion: fmt.Sprintf("Set vat to %s", expected.StringFixed(2)),
		})
	}
	return issues
}

func checkMinimumDataSet(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	for _, field := range cat.MinimumDataSet() {
		if _, ok := c.FieldValue(field); !ok {
			issues = append(issues, domain.ValidationIssue{
				Field:    field,
				RuleID:   RuleMinimumDataSet,
				Severity: domain.IssueError,
				Message:  fmt.Sprintf("%s is required by the national exchange minimum data set", field),
			})
		}
	}
	return issues
}

func checkAmountRange(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	lo, hi := cat.ClaimAmountBounds()
	switch {
	case c.BilledAmount < lo:
		issues = append(issues, domain.ValidationIssue{
			Field:    "billed_amount",
			RuleID:   RuleClaimAmountRange,
			Severity: domain.IssueError,
			Message:  fmt.Sprintf("billed amount %.2f is below the minimum %.2f", c.BilledAmount, lo),
		})
	case hi > 0 && c.BilledAmount > hi:
		issues = append(issues, domain.ValidationIssue{
			Field:      "billed_amount",
			RuleID:     RuleClaimAmountRange,
			Severity:   domain.IssueError,
			Message:    fmt.Sprintf("billed amount %.2f exceeds the maximum %.2f", c.BilledAmount, hi),
			Suggestion: "Split the claim or request manual review",
		})
	}
	return issues
}

func checkCodeCounts(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	maxDiag, maxProc := cat.CodeLimits()
	if maxDiag > 0 && len(c.DiagnosisCodes) > maxDiag {
		issues = append(issues, domain.ValidationIssue{
			Field:    "diagnosis_codes",
			RuleID:   RuleDiagnosisCount,
			Severity: domain.IssueError,
			Message:  fmt.Sprintf("%d diagnosis codes exceed the limit of %d", len(c.DiagnosisCodes), maxDiag),
		})
	}
	if maxProc > 0 && len(c.ProcedureCodes) > maxProc {
		issues = append(issues, domain.ValidationIssue{
			Field:    "procedure_codes",
			RuleID:   RuleProcedureCount,
			Severity: domain.IssueError,
			Message:  fmt.Sprintf("%d procedure codes exceed the limit of %d", len(c.ProcedureCodes), maxProc),
		})
	}
	return issues
}

func checkPatientID(issues []domain.ValidationIssue, c *domain.Claim, cat *catalog.Catalog) []domain.ValidationIssue {
	re := cat.PatientIDPattern()
	if re == nil || c.PatientID == "" || re.MatchString(c.PatientID) {
		return issues
	}
	return append(issues, domain.ValidationIssue{
		Field:      "patient_id",
		RuleID:     RulePatientIDFormat,
		Severity:   domain.IssueWarning,
		Message:    fmt.Sprintf("patient id %q does not match %s", c.PatientID, re.String()),
		Suggestion: "Use the national patient identifier",
	})
}

// HasErrors reports whether any issue has ERROR severity.
func HasErrors(issues []domain.ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == domain.IssueError {
			return true
		}
	}
	return false
}
