package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainsait/claimguard/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	c := MustDefault()

	assert.Equal(t, 0.15, c.VATRate())
	assert.Equal(t, []string{"patient_id", "physician_id", "service_code"}, c.RequiredFields())
	assert.Equal(t, []string{"diagnosis_codes", "facility_id"}, sorted(c.MinimumDataSet()))

	t.Run("DiagnosisFormat", func(t *testing.T) {
		for _, code := range []string{"J45", "J45.9", "E11.65"} {
			assert.True(t, c.ValidDiagnosisFormat(code), code)
		}
		for _, code := range []string{"j45", "J4", "J45.123", "445.1", ""} {
			assert.False(t, c.ValidDiagnosisFormat(code), code)
		}
	})

	t.Run("ProcedureFormat", func(t *testing.T) {
		assert.True(t, c.ValidProcedureFormat("99213"))
		assert.False(t, c.ValidProcedureFormat("9921"))
		assert.False(t, c.ValidProcedureFormat("9921A"))
	})

	t.Run("BundlesSortedByParent", func(t *testing.T) {
		bundles := c.Bundles()
		require.NotEmpty(t, bundles)
		for i := 1; i < len(bundles); i++ {
			assert.Less(t, bundles[i-1].Parent, bundles[i].Parent)
		}
	})

	t.Run("EmptyAllowListAcceptsAll", func(t *testing.T) {
		assert.True(t, c.KnownDiagnosis("Z99.9"))
		assert.True(t, c.KnownProcedure("12345"))
	})
}

func TestNewRejectsInconsistentCatalog(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		field  string
	}{
		{"BadDiagnosisPattern", func(s *Spec) { s.DiagnosisPattern = "([" }, "diagnosis_pattern"},
		{"MissingProcedurePattern", func(s *Spec) { s.ProcedurePattern = "" }, "procedure_pattern"},
		{"VATRateOutOfRange", func(s *Spec) { s.VATRate = 1.5 }, "vat_rate"},
		{"AmountBoundsInverted", func(s *Spec) { s.MinClaimAmount = 10; s.MaxClaimAmount = 5 }, "max_claim_amount"},
		{"UnknownRequiredField", func(s *Spec) { s.RequiredFields = append(s.RequiredFields, "shoe_size") }, "required_fields"},
		{"BundleWithoutParent", func(s *Spec) { s.Bundles = append(s.Bundles, Bundle{Children: []string{"11111", "22222"}}) }, "bundles"},
		{"DuplicateBundleParent", func(s *Spec) { s.Bundles = append(s.Bundles, s.Bundles[0]) }, "bundles[80048]"},
		{"SingleChildBundle", func(s *Spec) { s.Bundles = []Bundle{{Parent: "11111", Children: []string{"22222"}}} }, "bundles[11111]"},
		{"ParentIsChild", func(s *Spec) { s.Bundles = []Bundle{{Parent: "11111", Children: []string{"11111", "22222"}}} }, "bundles[11111]"},
		{"AllowListCodeMalformed", func(s *Spec) { s.ProcedureCodes = []string{"ABC"} }, "procedure_codes"},
		{"DuplicateRuleID", func(s *Spec) { s.Rules = append(s.Rules, s.Rules[0]) }, "rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := DefaultSpec()
			tt.mutate(&spec)

			_, err := New(spec)
			require.Error(t, err)

			var ce *domain.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "catalog", ce.Component)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestJustified(t *testing.T) {
	spec := DefaultSpec()
	spec.ComplexityJustifications = map[string][]string{"SRV-001": {"C", "I21"}}
	c, err := New(spec)
	require.NoError(t, err)

	assert.True(t, c.Justified("SRV-001", []string{"J45", "I21.4"}))
	assert.True(t, c.Justified("SRV-001", []string{"C50.9"}))
	assert.False(t, c.Justified("SRV-001", []string{"J45"}))
	assert.False(t, c.Justified("SRV-002", []string{"C50.9"}))
}

func TestLoad(t *testing.T) {
	t.Run("EmptyPathUsesDefaults", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSpec().Version, c.Version())
	})

	t.Run("YAMLOverridesAndKeepsDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		content := `
version: test-1
vat_rate: 0.05
patient_id_pattern: '^\d{10}$'
bundles:
  - parent: "11111"
    name: test bundle
    children: ["22222", "33333"]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		c, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "test-1", c.Version())
		assert.Equal(t, 0.05, c.VATRate())
		assert.Equal(t, 0.01, c.MonetaryTolerance())
		require.Len(t, c.Bundles(), 1)
		assert.Equal(t, []string{"22222", "33333"}, c.Bundles()[0].Children)
		assert.Len(t, c.Rules(), len(DefaultSpec().Rules))
		require.NotNil(t, c.PatientIDPattern())
		assert.True(t, c.PatientIDPattern().MatchString("1234567890"))
	})

	t.Run("MissingFileIsConfigError", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, domain.IsConfigError(err))
	})
}

func sorted(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	return out
}
