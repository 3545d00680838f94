// Package domain defines the core types and interfaces for ClaimGuard.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for service and schedule dates.
const DateLayout = "2006-01-02"

// ComplexityLevel is the declared complexity of a billed service.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "LOW"
	ComplexityMedium ComplexityLevel = "MEDIUM"
	ComplexityHigh   ComplexityLevel = "HIGH"
)

// Ordinal maps LOW/MEDIUM/HIGH to 0/1/2.
func (c ComplexityLevel) Ordinal() int {
	switch c {
	case ComplexityMedium:
		return 1
	case ComplexityHigh:
		return 2
	default:
		return 0
	}
}

// Valid reports whether c is one of the known levels.
func (c ComplexityLevel) Valid() bool {
	return c == ComplexityLow || c == ComplexityMedium || c == ComplexityHigh
}

// Outcome is the adjudication result of a historical claim.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// MonetaryBreakdown is the optional net/VAT/total triple carried by a claim.
type MonetaryBreakdown struct {
	Net   float64 `json:"net"`
	VAT   float64 `json:"vat"`
	Total float64 `json:"total"`
}

// Claim is a parsed, immutable insurance claim. Build it with ClaimRecord.Parse.
type Claim struct {
	ID             string             `json:"id"`
	PhysicianID    string             `json:"physician_id"`
	PatientID      string             `json:"patient_id"`
	ServiceCode    string             `json:"service_code"`
	ProcedureCodes []string           `json:"procedure_codes"`
	DiagnosisCodes []string           `json:"diagnosis_codes"`
	ServiceDate    time.Time          `json:"service_date"`
	BilledAmount   float64            `json:"billed_amount"`
	Complexity     ComplexityLevel    `json:"complexity_level"`
	FacilityID     string             `json:"facility_id"`
	PayerID        string             `json:"payer_id,omitempty"`
	PreAuthRef     string             `json:"pre_auth_ref,omitempty"`
	Breakdown      *MonetaryBreakdown `json:"breakdown,omitempty"`
	Attributes     map[string]string  `json:"attributes,omitempty"`
}

// DateKey returns the service date formatted with DateLayout.
func (c *Claim) DateKey() string {
	return c.ServiceDate.Format(DateLayout)
}

// FieldValue resolves a claim field by its wire name. Unknown names are
// looked up in Attributes. The bool is false when the field is empty.
func (c *Claim) FieldValue(name string) (string, bool) {
	var v string
	switch name {
	case "id":
		v = c.ID
	case "physician_id":
		v = c.PhysicianID
	case "patient_id":
		v = c.PatientID
	case "service_code":
		v = c.ServiceCode
	case "procedure_codes":
		v = strings.Join(c.ProcedureCodes, ",")
	case "diagnosis_codes":
		v = strings.Join(c.DiagnosisCodes, ",")
	case "service_date":
		if !c.ServiceDate.IsZero() {
			v = c.DateKey()
		}
	case "billed_amount":
		v = strconv.FormatFloat(c.BilledAmount, 'f', -1, 64)
	case "complexity_level":
		v = string(c.Complexity)
	case "facility_id":
		v = c.FacilityID
	case "payer_id":
		v = c.PayerID
	case "pre_auth_ref":
		v = c.PreAuthRef
	case "net", "vat", "total":
		if c.Breakdown == nil {
			return "", false
		}
		f := map[string]float64{"net": c.Breakdown.Net, "vat": c.Breakdown.VAT, "total": c.Breakdown.Total}[name]
		v = strconv.FormatFloat(f, 'f', -1, 64)
	default:
		v = c.Attributes[name]
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// HistoricalClaim is an adjudicated claim used as reference data.
type HistoricalClaim struct {
	Claim
	Outcome           Outcome `json:"outcome"`
	AdjudicatedAmount float64 `json:"adjudicated_amount"`
}

// ClaimRecord is the permissive wire form of a claim as received from callers.
type ClaimRecord struct {
	ID              string            `json:"id"`
	PhysicianID     string            `json:"physician_id"`
	PatientID       string            `json:"patient_id"`
	ServiceCode     string            `json:"service_code"`
	ProcedureCodes  []string          `json:"procedure_codes,omitempty"`
	DiagnosisCodes  []string          `json:"diagnosis_codes,omitempty"`
	ServiceDate     string            `json:"service_date"`
	BilledAmount    *float64          `json:"billed_amount"`
	ComplexityLevel string            `json:"complexity_level"`
	FacilityID      string            `json:"facility_id"`
	PayerID         string            `json:"payer_id,omitempty"`
	PreAuthRef      string            `json:"pre_auth_ref,omitempty"`
	Net             *float64          `json:"net,omitempty"`
	VAT             *float64          `json:"vat,omitempty"`
	Total           *float64          `json:"total,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Parse converts the record into a typed Claim. The returned error is an
// *InputError whenever the record cannot identify or describe a claim.
func (r *ClaimRecord) Parse() (Claim, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Claim{}, &InputError{Kind: RecordClaim, Reason: "missing claim id"}
	}
	fail := func(format string, args ...any) (Claim, error) {
		return Claim{}, &InputError{Kind: RecordClaim, RecordID: id, Reason: fmt.Sprintf(format, args...)}
	}

	date, err := ParseDate(r.ServiceDate)
	if err != nil {
		return fail("service_date: %v", err)
	}
	if r.BilledAmount == nil {
		return fail("missing billed_amount")
	}
	amount := *r.BilledAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fail("billed_amount is not a finite number")
	}
	complexity := ComplexityLevel(strings.ToUpper(strings.TrimSpace(r.ComplexityLevel)))
	if !complexity.Valid() {
		return fail("complexity_level %q is not one of LOW, MEDIUM, HIGH", r.ComplexityLevel)
	}

	c := Claim{
		ID:             id,
		PhysicianID:    strings.TrimSpace(r.PhysicianID),
		PatientID:      strings.TrimSpace(r.PatientID),
		ServiceCode:    strings.TrimSpace(r.ServiceCode),
		ProcedureCodes: trimAll(r.ProcedureCodes),
		DiagnosisCodes: trimAll(r.DiagnosisCodes),
		ServiceDate:    date,
		BilledAmount:   amount,
		Complexity:     complexity,
		FacilityID:     strings.TrimSpace(r.FacilityID),
		PayerID:        strings.TrimSpace(r.PayerID),
		PreAuthRef:     strings.TrimSpace(r.PreAuthRef),
	}
	if r.Net != nil && r.VAT != nil && r.Total != nil {
		c.Breakdown = &MonetaryBreakdown{Net: *r.Net, VAT: *r.VAT, Total: *r.Total}
	}
	if len(r.Attributes) > 0 {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return c, nil
}

// HistoricalRecord is the wire form of a historical claim.
type HistoricalRecord struct {
	ClaimRecord
	Outcome           string   `json:"outcome"`
	AdjudicatedAmount *float64 `json:"adjudicated_amount,omitempty"`
}

// Parse converts the record into a HistoricalClaim.
func (r *HistoricalRecord) Parse() (HistoricalClaim, error) {
	c, err := r.ClaimRecord.Parse()
	if err != nil {
		var ie *InputError
		if asInputError(err, &ie) {
			ie.Kind = RecordHistorical
		}
		return HistoricalClaim{}, err
	}
	outcome := Outcome(strings.ToUpper(strings.TrimSpace(r.Outcome)))
	if outcome != OutcomeApproved && outcome != OutcomeRejected {
		return HistoricalClaim{}, &InputError{
			Kind:     RecordHistorical,
			RecordID: c.ID,
			Reason:   fmt.Sprintf("outcome %q is not APPROVED or REJECTED", r.Outcome),
		}
	}
	h := HistoricalClaim{Claim: c, Outcome: outcome}
	if r.AdjudicatedAmount != nil {
		h.AdjudicatedAmount = *r.AdjudicatedAmount
	}
	return h, nil
}

// ParseDate accepts a bare date or an RFC 3339 timestamp and truncates to the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ScheduleKey identifies a facility's encounter list for one day.
type ScheduleKey struct {
	FacilityID string
	Date       string
}

// FacilitySchedule maps a facility/day to the patient ids seen there.
type FacilitySchedule map[ScheduleKey]map[string]struct{}

// ScheduleEntry is the wire form of one FacilitySchedule row.
type ScheduleEntry struct {
	FacilityID string   `json:"facility_id"`
	Date       string   `json:"date"`
	PatientIDs []string `json:"patient_ids"`
}

// NewFacilitySchedule builds a schedule from wire entries. Entries for the
// same facility and day are merged. Malformed dates yield an *InputError.
func NewFacilitySchedule(entries []ScheduleEntry) (FacilitySchedule, []error) {
	fs := make(FacilitySchedule, len(entries))
	var errs []error
	for i, e := range entries {
		d, err := ParseDate(e.Date)
		if err != nil || strings.TrimSpace(e.FacilityID) == "" {
			reason := "missing facility_id"
			if err != nil {
				reason = err.Error()
			}
			errs = append(errs, &InputError{Index: i, Kind: RecordSchedule, RecordID: e.FacilityID, Reason: reason})
			continue
		}
		fs.Add(strings.TrimSpace(e.FacilityID), d, e.PatientIDs...)
	}
	return fs, errs
}

// Add records patients as seen at a facility on a day.
func (fs FacilitySchedule) Add(facilityID string, date time.Time, patientIDs ...string) {
	key := ScheduleKey{FacilityID: facilityID, Date: date.Format(DateLayout)}
	set, ok := fs[key]
	if !ok {
		set = make(map[string]struct{}, len(patientIDs))
		fs[key] = set
	}
	for _, p := range patientIDs {
		set[strings.TrimSpace(p)] = struct{}{}
	}
}

// Lookup returns the patient set for a facility/day and whether an entry exists.
func (fs FacilitySchedule) Lookup(facilityID, date string) (map[string]struct{}, bool) {
	set, ok := fs[ScheduleKey{FacilityID: facilityID, Date: date}]
	return set, ok
}

// Entries returns the schedule in wire form, sorted by facility then date.
func (fs FacilitySchedule) Entries() []ScheduleEntry {
	out := make([]ScheduleEntry, 0, len(fs))
	for k, set := range fs {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, ScheduleEntry{FacilityID: k.FacilityID, Date: k.Date, PatientIDs: ids})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FacilityID != out[j].FacilityID {
			return out[i].FacilityID < out[j].FacilityID
		}
		return out[i].Date < out[j].Date
	})
	return out
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
