package detector

import (
	"fmt"

	"github.com/brainsait/claimguard/internal/domain"
)

// Phantom flags services that no facility schedule can account for, and
// physicians billing an implausible number of claims in one day.
type Phantom struct {
	maxDailyClaims int
	gapAlerts      bool
}

// NewPhantom creates the phantom-billing detector.
func NewPhantom(cfg domain.PhantomConfig) *Phantom {
	return &Phantom{maxDailyClaims: cfg.MaxDailyClaims, gapAlerts: cfg.ScheduleGapAlerts}
}

// Name implements Detector.
func (p *Phantom) Name() string { return "phantom_billing" }

// Detect runs the schedule check and the daily volume check.
func (p *Phantom) Detect(in *Input) []domain.FraudAlert {
	alerts := p.scheduleAlerts(in)
	return append(alerts, p.volumeAlerts(in)...)
}

// scheduleAlerts is skipped entirely when no schedules were supplied.
func (p *Phantom) scheduleAlerts(in *Input) []domain.FraudAlert {
	if len(in.Schedules) == 0 {
		return nil
	}

	var alerts []domain.FraudAlert
	for i := range in.Claims {
		c := &in.Claims[i]
		if c.FacilityID == "" || c.PatientID == "" {
			continue
		}
		date := c.DateKey()
		patients, ok := in.Schedules.Lookup(c.FacilityID, date)
		if !ok {
			if p.gapAlerts {
				desc := fmt.Sprintf("no schedule on record for facility %s on %s", c.FacilityID, date)
				alerts = append(alerts, NewAlert(domain.AlertPhantomBilling, domain.SeverityLow, c.PhysicianID, []string{c.ID}, desc, in.AsOf))
			}
			continue
		}
		if _, seen := patients[c.PatientID]; seen {
			continue
		}
		desc := fmt.Sprintf("patient %s is not on the schedule of facility %s for %s", c.PatientID, c.FacilityID, date)
		alerts = append(alerts, NewAlert(domain.AlertPhantomBilling, domain.SeverityCritical, c.PhysicianID, []string{c.ID}, desc, in.AsOf))
	}
	return alerts
}

type physicianDay struct {
	physician string
	date      string
}

func (p *Phantom) volumeAlerts(in *Input) []domain.FraudAlert {
	if p.maxDailyClaims <= 0 {
		return nil
	}
	keys, groups := groupBy(in.Claims, func(c *domain.Claim) physicianDay {
		return physicianDay{physician: c.PhysicianID, date: c.DateKey()}
	})

	var alerts []domain.FraudAlert
	for _, k := range keys {
		group := groups[k]
		if k.physician == "" || len(group) <= p.maxDailyClaims {
			continue
		}
		desc := fmt.Sprintf("physician %s billed %d claims on %s, above the daily limit of %d", k.physician, len(group), k.date, p.maxDailyClaims)
		alerts = append(alerts, NewAlert(domain.AlertPhantomBilling, domain.SeverityHigh, k.physician, claimIDs(group), desc, in.AsOf))
	}
	return alerts
}
