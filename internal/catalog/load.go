package catalog

import (
	"github.com/spf13/viper"

	"github.com/brainsait/claimguard/internal/domain"
)

// Load reads a catalog file (YAML, JSON or TOML by extension). Keys absent
// from the file keep their built-in defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(DefaultSpec())
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v, DefaultSpec())

	if err := v.ReadInConfig(); err != nil {
		return nil, &domain.ConfigError{Component: "catalog", Field: "path", Reason: "cannot read " + path, Err: err}
	}

	var spec Spec
	if err := v.Unmarshal(&spec); err != nil {
		return nil, &domain.ConfigError{Component: "catalog", Reason: "cannot decode " + path, Err: err}
	}

	defaults := DefaultSpec()
	if !v.IsSet("bundles") {
		spec.Bundles = defaults.Bundles
	}
	if !v.IsSet("rules") {
		spec.Rules = defaults.Rules
	}
	return New(spec)
}

func setDefaults(v *viper.Viper, d Spec) {
	v.SetDefault("version", d.Version)
	v.SetDefault("required_fields", d.RequiredFields)
	v.SetDefault("diagnosis_pattern", d.DiagnosisPattern)
	v.SetDefault("procedure_pattern", d.ProcedurePattern)
	v.SetDefault("vat_rate", d.VATRate)
	v.SetDefault("monetary_tolerance", d.MonetaryTolerance)
	v.SetDefault("minimum_data_set", d.MinimumDataSet)
	v.SetDefault("min_claim_amount", d.MinClaimAmount)
	v.SetDefault("max_claim_amount", d.MaxClaimAmount)
	v.SetDefault("max_diagnosis_codes", d.MaxDiagnosisCodes)
	v.SetDefault("max_procedure_codes", d.MaxProcedureCodes)
}
