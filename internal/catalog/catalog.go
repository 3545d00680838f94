// Package catalog holds the Rule Catalog: required fields, code-set
// patterns, bundling relationships and the national minimum data set.
// A Catalog is built once per process and shared read-only.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/brainsait/claimguard/internal/domain"
)

// Bundle maps a parent procedure code to the child codes it subsumes.
type Bundle struct {
	Parent   string   `json:"parent" mapstructure:"parent"`
	Name     string   `json:"name" mapstructure:"name"`
	Children []string `json:"children" mapstructure:"children"`
}

// Spec is the serializable content of a catalog.
type Spec struct {
	Version string `json:"version" mapstructure:"version"`

	// Fields that must be present on every claim
	RequiredFields []string `json:"requiredFields" mapstructure:"required_fields"`

	// Code-set membership
	DiagnosisPattern string   `json:"diagnosisPattern" mapstructure:"diagnosis_pattern"`
	ProcedurePattern string   `json:"procedurePattern" mapstructure:"procedure_pattern"`
	DiagnosisCodes   []string `json:"diagnosisCodes,omitempty" mapstructure:"diagnosis_codes"`
	ProcedureCodes   []string `json:"procedureCodes,omitempty" mapstructure:"procedure_codes"`

	// Monetary breakdown
	VATRate           float64 `json:"vatRate" mapstructure:"vat_rate"`
	MonetaryTolerance float64 `json:"monetaryTolerance" mapstructure:"monetary_tolerance"`

	// National exchange minimum data set
	MinimumDataSet []string `json:"minimumDataSet" mapstructure:"minimum_data_set"`

	// Claim limits
	MinClaimAmount    float64 `json:"minClaimAmount" mapstructure:"min_claim_amount"`
	MaxClaimAmount    float64 `json:"maxClaimAmount" mapstructure:"max_claim_amount"`
	MaxDiagnosisCodes int     `json:"maxDiagnosisCodes" mapstructure:"max_diagnosis_codes"`
	MaxProcedureCodes int     `json:"maxProcedureCodes" mapstructure:"max_procedure_codes"`

	// Optional patient identifier format, empty disables the check
	PatientIDPattern string `json:"patientIdPattern,omitempty" mapstructure:"patient_id_pattern"`

	// Bundling relationships
	Bundles []Bundle `json:"bundles" mapstructure:"bundles"`

	// Diagnosis code prefixes that justify above-baseline billing, per service code
	ComplexityJustifications map[string][]string `json:"complexityJustifications,omitempty" mapstructure:"complexity_justifications"`

	// CEL extension rules
	Rules []domain.RuleConfig `json:"rules,omitempty" mapstructure:"rules"`
}

// Catalog is a validated, compiled Spec.
type Catalog struct {
	spec Spec

	diagnosisRE *regexp.Regexp
	procedureRE *regexp.Regexp
	patientRE   *regexp.Regexp

	diagnosisSet map[string]struct{}
	procedureSet map[string]struct{}
}

// New validates spec and compiles it into a Catalog.
func New(spec Spec) (*Catalog, error) {
	c := &Catalog{spec: normalize(spec)}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustDefault returns the built-in catalog.
func MustDefault() *Catalog {
	c, err := New(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return c
}

func normalize(s Spec) Spec {
	s.RequiredFields = cleanList(s.RequiredFields)
	s.MinimumDataSet = cleanList(s.MinimumDataSet)
	s.DiagnosisCodes = cleanList(s.DiagnosisCodes)
	s.ProcedureCodes = cleanList(s.ProcedureCodes)

	bundles := make([]Bundle, len(s.Bundles))
	for i, b := range s.Bundles {
		b.Parent = strings.TrimSpace(b.Parent)
		b.Children = cleanList(b.Children)
		sort.Strings(b.Children)
		bundles[i] = b
	}
	sort.SliceStable(bundles, func(i, j int) bool { return bundles[i].Parent < bundles[j].Parent })
	s.Bundles = bundles

	if len(s.ComplexityJustifications) > 0 {
		cj := make(map[string][]string, len(s.ComplexityJustifications))
		for svc, prefixes := range s.ComplexityJustifications {
			cj[strings.TrimSpace(svc)] = cleanList(prefixes)
		}
		s.ComplexityJustifications = cj
	}

	rules := make([]domain.RuleConfig, len(s.Rules))
	copy(rules, s.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	s.Rules = rules
	return s
}

func (c *Catalog) compile() error {
	s := &c.spec
	bad := func(field, format string, args ...any) error {
		return &domain.ConfigError{Component: "catalog", Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	var err error
	if s.DiagnosisPattern == "" {
		return bad("diagnosis_pattern", "is required")
	}
	if c.diagnosisRE, err = regexp.Compile(s.DiagnosisPattern); err != nil {
		return &domain.ConfigError{Component: "catalog", Field: "diagnosis_pattern", Reason: "invalid pattern", Err: err}
	}
	if s.ProcedurePattern == "" {
		return bad("procedure_pattern", "is required")
	}
	if c.procedureRE, err = regexp.Compile(s.ProcedurePattern); err != nil {
		return &domain.ConfigError{Component: "catalog", Field: "procedure_pattern", Reason: "invalid pattern", Err: err}
	}
	if s.PatientIDPattern != "" {
		if c.patientRE, err = regexp.Compile(s.PatientIDPattern); err != nil {
			return &domain.ConfigError{Component: "catalog", Field: "patient_id_pattern", Reason: "invalid pattern", Err: err}
		}
	}

	if s.VATRate < 0 || s.VATRate >= 1 {
		return bad("vat_rate", "must lie in [0,1), got %g", s.VATRate)
	}
	if s.MonetaryTolerance < 0 {
		return bad("monetary_tolerance", "must not be negative, got %g", s.MonetaryTolerance)
	}
	if s.MinClaimAmount < 0 {
		return bad("min_claim_amount", "must not be negative, got %g", s.MinClaimAmount)
	}
	if s.MaxClaimAmount > 0 && s.MaxClaimAmount < s.MinClaimAmount {
		return bad("max_claim_amount", "%g is below min_claim_amount %g", s.MaxClaimAmount, s.MinClaimAmount)
	}
	if s.MaxDiagnosisCodes < 0 || s.MaxProcedureCodes < 0 {
		return bad("max_codes", "limits must not be negative")
	}

	for _, f := range s.RequiredFields {
		if !isCoreField(f) {
			return bad("required_fields", "unknown claim field %q", f)
		}
	}

	c.diagnosisSet = toSet(s.DiagnosisCodes)
	for code := range c.diagnosisSet {
		if !c.diagnosisRE.MatchString(code) {
			return bad("diagnosis_codes", "code %q does not match diagnosis_pattern", code)
		}
	}
	c.procedureSet = toSet(s.ProcedureCodes)
	for code := range c.procedureSet {
		if !c.procedureRE.MatchString(code) {
			return bad("procedure_codes", "code %q does not match procedure_pattern", code)
		}
	}

	seen := make(map[string]bool, len(s.Bundles))
	for _, b := range s.Bundles {
		field := fmt.Sprintf("bundles[%s]", b.Parent)
		if b.Parent == "" {
			return bad("bundles", "bundle %q has no parent code", b.Name)
		}
		if seen[b.Parent] {
			return bad(field, "duplicate parent code")
		}
		seen[b.Parent] = true
		if len(b.Children) < 2 {
			return bad(field, "needs at least two child codes, got %d", len(b.Children))
		}
		for i, child := range b.Children {
			if child == b.Parent {
				return bad(field, "parent code listed as its own child")
			}
			if i > 0 && b.Children[i-1] == child {
				return bad(field, "duplicate child code %q", child)
			}
		}
	}

	ruleIDs := make(map[string]bool, len(s.Rules))
	for _, r := range s.Rules {
		if r.ID == "" || r.Expression == "" {
			return bad("rules", "every rule needs an id and an expression")
		}
		if ruleIDs[r.ID] {
			return bad("rules", "duplicate rule id %q", r.ID)
		}
		ruleIDs[r.ID] = true
	}
	return nil
}

// Spec returns a copy of the catalog content.
func (c *Catalog) Spec() Spec {
	s := c.spec
	s.RequiredFields = append([]string(nil), s.RequiredFields...)
	s.MinimumDataSet = append([]string(nil), s.MinimumDataSet...)
	s.Bundles = append([]Bundle(nil), s.Bundles...)
	s.Rules = append([]domain.RuleConfig(nil), s.Rules...)
	return s
}

// Version returns the catalog version label.
func (c *Catalog) Version() string { return c.spec.Version }

// RequiredFields returns the fields checked for presence, in order.
func (c *Catalog) RequiredFields() []string { return c.spec.RequiredFields }

// MinimumDataSet returns the national exchange required fields, in order.
func (c *Catalog) MinimumDataSet() []string { return c.spec.MinimumDataSet }

// VATRate returns the configured national VAT rate.
func (c *Catalog) VATRate() float64 { return c.spec.VATRate }

// MonetaryTolerance returns the absolute tolerance for monetary checks.
func (c *Catalog) MonetaryTolerance() float64 { return c.spec.MonetaryTolerance }

// ClaimAmountBounds returns the accepted billed amount range. A zero max means unbounded.
func (c *Catalog) ClaimAmountBounds() (min, max float64) {
	return c.spec.MinClaimAmount, c.spec.MaxClaimAmount
}

// CodeLimits returns the maximum diagnosis and procedure code counts. Zero means unlimited.
func (c *Catalog) CodeLimits() (diagnosis, procedure int) {
	return c.spec.MaxDiagnosisCodes, c.spec.MaxProcedureCodes
}

// Bundles returns the bundle table sorted by parent code.
func (c *Catalog) Bundles() []Bundle { return c.spec.Bundles }

// Rules returns the CEL extension rules sorted by id.
func (c *Catalog) Rules() []domain.RuleConfig { return c.spec.Rules }

// DiagnosisPattern returns the configured diagnosis pattern source.
func (c *Catalog) DiagnosisPattern() string { return c.spec.DiagnosisPattern }

// ProcedurePattern returns the configured procedure pattern source.
func (c *Catalog) ProcedurePattern() string { return c.spec.ProcedurePattern }

// ValidDiagnosisFormat reports whether code matches the diagnosis pattern.
func (c *Catalog) ValidDiagnosisFormat(code string) bool { return c.diagnosisRE.MatchString(code) }

// ValidProcedureFormat reports whether code matches the procedure pattern.
func (c *Catalog) ValidProcedureFormat(code string) bool { return c.procedureRE.MatchString(code) }

// KnownDiagnosis reports whether code is in the diagnosis allow-list.
// An empty allow-list accepts every code.
func (c *Catalog) KnownDiagnosis(code string) bool {
	if len(c.diagnosisSet) == 0 {
		return true
	}
	_, ok := c.diagnosisSet[code]
	return ok
}

// KnownProcedure reports whether code is in the procedure allow-list.
// An empty allow-list accepts every code.
func (c *Catalog) KnownProcedure(code string) bool {
	if len(c.procedureSet) == 0 {
		return true
	}
	_, ok := c.procedureSet[code]
	return ok
}

// PatientIDPattern returns the patient id matcher, or nil when disabled.
func (c *Catalog) PatientIDPattern() *regexp.Regexp { return c.patientRE }

// Justified reports whether any diagnosis code justifies above-baseline
// billing for serviceCode.
func (c *Catalog) Justified(serviceCode string, diagnosisCodes []string) bool {
	prefixes := c.spec.ComplexityJustifications[serviceCode]
	for _, code := range diagnosisCodes {
		for _, p := range prefixes {
			if strings.HasPrefix(code, p) {
				return true
			}
		}
	}
	return false
}

var coreFields = map[string]bool{
	"id": true, "physician_id": true, "patient_id": true, "service_code": true,
	"procedure_codes": true, "diagnosis_codes": true, "service_date": true,
	"billed_amount": true, "complexity_level": true, "facility_id": true,
	"payer_id": true, "pre_auth_ref": true,
}

func isCoreField(name string) bool { return coreFields[name] }

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	return set
}
