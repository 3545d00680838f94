package detector

import (
	"fmt"
	"strings"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/domain"
)

// Unbundling flags claims that bill every component of a bundle
// individually without the bundle's parent code.
type Unbundling struct {
	bundles []catalog.Bundle
}

// NewUnbundling creates the detector over a bundle table.
func NewUnbundling(bundles []catalog.Bundle) *Unbundling {
	return &Unbundling{bundles: bundles}
}

// Name implements Detector.
func (u *Unbundling) Name() string { return "unbundling" }

// Detect emits one MEDIUM alert per violated bundle per claim.
func (u *Unbundling) Detect(in *Input) []domain.FraudAlert {
	var alerts []domain.FraudAlert
	for i := range in.Claims {
		c := &in.Claims[i]
		if len(c.ProcedureCodes) == 0 {
			continue
		}
		billed := make(map[string]struct{}, len(c.ProcedureCodes))
		for _, code := range c.ProcedureCodes {
			billed[code] = struct{}{}
		}

		for _, b := range u.bundles {
			if _, ok := billed[b.Parent]; ok {
				continue
			}
			if !containsAll(billed, b.Children) {
				continue
			}
			name := b.Name
			if name == "" {
				name = "bundle"
			}
			desc := fmt.Sprintf("procedures %s billed separately instead of %s %s", strings.Join(b.Children, ", "), name, b.Parent)
			alerts = append(alerts, NewAlert(domain.AlertUnbundling, domain.SeverityMedium, c.PhysicianID, []string{c.ID}, desc, in.AsOf))
		}
	}
	return alerts
}

func containsAll(set map[string]struct{}, codes []string) bool {
	if len(codes) == 0 {
		return false
	}
	for _, code := range codes {
		if _, ok := set[code]; !ok {
			return false
		}
	}
	return true
}
