package catalog

import "github.com/brainsait/claimguard/internal/domain"

// DefaultSpec returns the built-in national exchange catalog.
func DefaultSpec() Spec {
	return Spec{
		Version:          "nphies-2024.1",
		RequiredFields:   []string{"patient_id", "physician_id", "service_code"},
		DiagnosisPattern: `^[A-Z]\d{2}(\.\d{1,2})?$`,
		ProcedurePattern: `^\d{5}$`,

		VATRate:           0.15,
		MonetaryTolerance: 0.01,

		MinimumDataSet: []string{
			"facility_id",
			"diagnosis_codes",
		},

		MinClaimAmount:    1.0,
		MaxClaimAmount:    1_000_000,
		MaxDiagnosisCodes: 10,
		MaxProcedureCodes: 20,

		Bundles: []Bundle{
			{Parent: "80048", Name: "basic metabolic panel", Children: []string{"82310", "82374", "82435", "82565", "82947", "84132", "84295", "84520"}},
			{Parent: "80061", Name: "lipid panel", Children: []string{"82465", "83718", "84478"}},
			{Parent: "80076", Name: "hepatic function panel", Children: []string{"82040", "82247", "82248", "84075", "84155", "84450", "84460"}},
			{Parent: "74178", Name: "CT abdomen and pelvis with and without contrast", Children: []string{"74176", "74177"}},
		},

		Rules: []domain.RuleConfig{
			{
				ID:          "PAYER_A_PREAUTH",
				Name:        "PAYER_A pre-authorization",
				Description: "PAYER_A requires a pre-authorization reference above 5000",
				Version:     "1.0.0",
				Expression:  `payer_id == "PAYER_A" && billed_amount > 5000.0 && pre_auth_ref == ""`,
				Field:       "pre_auth_ref",
				Severity:    domain.IssueError,
				Message:     "PAYER_A requires pre-authorization for claims above 5000",
				Suggestion:  "Obtain a pre-authorization reference before submission",
				Enabled:     true,
			},
		},
	}
}
