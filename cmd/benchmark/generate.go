package main

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
)

// Scheme is the fraud pattern injected into a synthetic claim.
type Scheme string

const (
	SchemeNone       Scheme = ""
	SchemeDuplicate  Scheme = "duplicate"
	SchemeUnbundling Scheme = "unbundling"
	SchemePhantom    Scheme = "phantom"
)

var schemes = []Scheme{SchemeDuplicate, SchemeUnbundling, SchemePhantom}

// LabeledBatch is a synthetic batch plus the scheme injected per claim id.
type LabeledBatch struct {
	Input  engine.Input
	Labels map[string]Scheme
}

// Generator builds synthetic batches. Equal seeds give equal batches.
type Generator struct {
	rng        *rand.Rand
	size       int
	fraudRate  float64
	physicians int
	facilities int
	start      time.Time
	batch      int
}

// NewGenerator creates a generator of batches holding size claims.
func NewGenerator(seed uint64, size int, fraudRate float64) *Generator {
	physicians := size / 2
	if physicians < 1 {
		physicians = 1
	}
	return &Generator{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		size:       size,
		fraudRate:  fraudRate,
		physicians: physicians,
		facilities: 5,
		start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var evaluationCodes = []struct {
	code       string
	complexity string
	diagnosis  string
	amount     float64
}{
	{"99212", "LOW", "J06.9", 80},
	{"99213", "MEDIUM", "J45.9", 150},
	{"99214", "MEDIUM", "E11.9", 220},
	{"99215", "HIGH", "I50.9", 310},
}

// Next returns the next batch. Legitimate claims get a unique
// physician and day pair so that only injected duplicates collide.
func (g *Generator) Next() LabeledBatch {
	g.batch++
	out := LabeledBatch{
		Input: engine.Input{
			AsOf:   g.start.AddDate(0, 3, 0),
			Claims: make([]domain.ClaimRecord, 0, g.size),
		},
		Labels: make(map[string]Scheme),
	}
	scheduled := make(map[[2]string][]string)

	for i := 0; len(out.Input.Claims) < g.size; i++ {
		c := g.legit(i)
		key := [2]string{c.FacilityID, c.ServiceDate}
		scheduled[key] = append(scheduled[key], c.PatientID)

		scheme := SchemeNone
		if g.rng.Float64() < g.fraudRate {
			scheme = schemes[g.rng.IntN(len(schemes))]
		}

		switch scheme {
		case SchemeDuplicate:
			if len(out.Input.Claims)+2 > g.size {
				out.Input.Claims = append(out.Input.Claims, c)
				continue
			}
			dup := c
			dup.ID = c.ID + "-D"
			dup.PatientID = fmt.Sprintf("PAT-%d-%05d", g.batch, g.rng.IntN(100000))
			out.Input.Claims = append(out.Input.Claims, c, dup)
			out.Labels[c.ID] = SchemeDuplicate
			out.Labels[dup.ID] = SchemeDuplicate
			scheduled[key] = append(scheduled[key], dup.PatientID)
		case SchemeUnbundling:
			c.ProcedureCodes = []string{"82465", "83718", "84478"}
			out.Input.Claims = append(out.Input.Claims, c)
			out.Labels[c.ID] = SchemeUnbundling
		case SchemePhantom:
			scheduled[key] = scheduled[key][:len(scheduled[key])-1]
			out.Input.Claims = append(out.Input.Claims, c)
			out.Labels[c.ID] = SchemePhantom
		default:
			out.Input.Claims = append(out.Input.Claims, c)
		}
	}

	for key, patients := range scheduled {
		out.Input.Schedules = append(out.Input.Schedules, domain.ScheduleEntry{
			FacilityID: key[0],
			Date:       key[1],
			PatientIDs: patients,
		})
	}
	sort.Slice(out.Input.Schedules, func(i, j int) bool {
		a, b := out.Input.Schedules[i], out.Input.Schedules[j]
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		return a.Date < b.Date
	})
	return out
}

func (g *Generator) legit(i int) domain.ClaimRecord {
	ev := evaluationCodes[g.rng.IntN(len(evaluationCodes))]
	amount := ev.amount * (0.9 + 0.2*g.rng.Float64())
	date := g.start.AddDate(0, 0, i/g.physicians)

	return domain.ClaimRecord{
		ID:              fmt.Sprintf("CLM-%d-%05d", g.batch, i),
		PhysicianID:     fmt.Sprintf("DOC-%03d", i%g.physicians),
		PatientID:       fmt.Sprintf("PAT-%d-%05d", g.batch, i),
		ServiceCode:     ev.code,
		ProcedureCodes:  []string{ev.code},
		DiagnosisCodes:  []string{ev.diagnosis},
		ServiceDate:     date.Format(domain.DateLayout),
		BilledAmount:    &amount,
		ComplexityLevel: ev.complexity,
		FacilityID:      fmt.Sprintf("FAC-%d", i%g.facilities),
	}
}
