package detector

import (
	"fmt"

	"github.com/brainsait/claimguard/internal/domain"
)

type duplicateKey struct {
	physician string
	service   string
	date      string
}

// Duplicate flags several claims billed by one physician for the same
// service on the same day.
type Duplicate struct{}

// NewDuplicate creates the duplicate detector.
func NewDuplicate() *Duplicate { return &Duplicate{} }

// Name implements Detector.
func (d *Duplicate) Name() string { return "duplicate" }

// Detect emits one HIGH alert per group holding more than one claim.
func (d *Duplicate) Detect(in *Input) []domain.FraudAlert {
	keys, groups := groupBy(in.Claims, func(c *domain.Claim) duplicateKey {
		return duplicateKey{physician: c.PhysicianID, service: c.ServiceCode, date: c.DateKey()}
	})

	var alerts []domain.FraudAlert
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		desc := fmt.Sprintf("%d claims billed by physician %s for service %s on %s", len(group), k.physician, k.service, k.date)
		alerts = append(alerts, NewAlert(domain.AlertDuplicate, domain.SeverityHigh, k.physician, claimIDs(group), desc, in.AsOf))
	}
	return alerts
}
