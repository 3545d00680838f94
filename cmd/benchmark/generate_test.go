package main

import (
	"context"
	"reflect"
	"testing"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
)

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(7, 50, 0.3).Next()
	b := NewGenerator(7, 50, 0.3).Next()
	if !reflect.DeepEqual(a, b) {
		t.Error("equal seeds must give equal batches")
	}
	if len(a.Input.Claims) != 50 {
		t.Errorf("expected 50 claims, got %d", len(a.Input.Claims))
	}
}

func TestInjectedSchemesAreDetected(t *testing.T) {
	eng, err := engine.New(catalog.MustDefault(), nil, domain.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	b := NewGenerator(42, 200, 0.3).Next()
	if len(b.Labels) == 0 {
		t.Fatal("expected injected schemes")
	}

	report, err := eng.Run(context.Background(), &b.Input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	m := &Metrics{schemeTotal: map[Scheme]int64{}, schemeHit: map[Scheme]int64{}}
	score(m, b, report)

	for _, s := range schemes {
		if m.schemeTotal[s] > 0 && m.schemeHit[s] != m.schemeTotal[s] {
			t.Errorf("scheme %s: caught %d of %d", s, m.schemeHit[s], m.schemeTotal[s])
		}
	}
	if m.TotalClaims != 200 {
		t.Errorf("expected 200 scored claims, got %d", m.TotalClaims)
	}
}
