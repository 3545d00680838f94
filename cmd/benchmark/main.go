// Benchmark tool for load-testing ClaimGuard with synthetic claim batches.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -batches 50 -size 200
//
// This tool:
//  1. Generates seeded claim batches with injected duplicate, unbundling
//     and phantom-billing schemes
//  2. Posts each batch to POST /api/ai/fraud-detection
//  3. Compares each verdict (FLAG/BLOCK vs PASS) with the injected label
//  4. Reports precision, recall, F1-score, per-scheme recall and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/brainsait/claimguard/internal/domain"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // injected scheme flagged or blocked
	FalsePositives int64 // clean claim flagged or blocked
	TrueNegatives  int64 // clean claim passed
	FalseNegatives int64 // injected scheme passed

	TotalClaims  int64
	TotalBatches int64
	TotalErrors  int64

	ProcessingTimeMs int64

	mu          sync.Mutex
	schemeTotal map[Scheme]int64
	schemeHit   map[Scheme]int64
}

func (m *Metrics) recordScheme(s Scheme, caught bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemeTotal[s]++
	if caught {
		m.schemeHit[s]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "ClaimGuard base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 20, "Number of batches to send")
	size := flag.Int("size", 100, "Claims per batch (max 1000)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.1, "Share of claims carrying an injected scheme")
	seed := flag.Uint64("seed", 42, "Generator seed")
	quiet := flag.Bool("quiet", false, "Disable progress bars")
	flag.Parse()

	if *size <= 0 || *size > 1000 || *batches <= 0 || *workers <= 0 {
		fmt.Println("Usage: benchmark [-url http://localhost:8080] [-batches N] [-size 1..1000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("CLAIMGUARD BENCHMARK - synthetic claim batches")
	fmt.Printf("\nURL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d x %d claims\n", *batches, *size)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ClaimGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure ClaimGuard is running:")
		fmt.Println("  go run ./cmd/claimguard serve")
		os.Exit(1)
	}
	fmt.Println("ClaimGuard is healthy")

	gen := NewGenerator(*seed, *size, *fraudRate)
	work := make([]LabeledBatch, *batches)
	for i := range work {
		work[i] = gen.Next()
	}

	startTime := time.Now()
	metrics := runBenchmark(work, *baseURL, *tenantID, *workers, !*quiet)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(batches []LabeledBatch, baseURL, tenantID string, numWorkers int, progress bool) *Metrics {
	metrics := &Metrics{
		schemeTotal: make(map[Scheme]int64),
		schemeHit:   make(map[Scheme]int64),
	}

	var (
		p          *mpb.Progress
		batchBar   *mpb.Bar
		claimBar   *mpb.Bar
		claimTotal int64
	)
	for _, b := range batches {
		claimTotal += int64(len(b.Input.Claims))
	}
	if progress {
		p = mpb.New(mpb.WithWidth(60))
		batchBar = p.AddBar(int64(len(batches)),
			mpb.PrependDecorators(
				decor.Name("batches ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(decor.Percentage(decor.WCSyncSpace)),
		)
		claimBar = p.AddBar(claimTotal,
			mpb.PrependDecorators(
				decor.Name("claims ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace)),
		)
	}

	work := make(chan LabeledBatch, len(batches))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for b := range work {
				start := time.Now()
				report, err := analyzeBatch(client, baseURL, tenantID, b)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalBatches, 1)

				if progress {
					batchBar.Increment()
					claimBar.IncrBy(len(b.Input.Claims))
				}
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}
				score(metrics, b, report)
			}
		}()
	}

	for _, b := range batches {
		work <- b
	}
	close(work)

	wg.Wait()
	if progress {
		p.Wait()
	}
	return metrics
}

// score updates the confusion matrix from one report.
func score(m *Metrics, b LabeledBatch, report *domain.FraudAnalysisReport) {
	for _, v := range report.Verdicts {
		atomic.AddInt64(&m.TotalClaims, 1)

		predicted := v.Decision != domain.DecisionPass
		scheme, actual := b.Labels[v.ClaimID]

		switch {
		case predicted && actual:
			atomic.AddInt64(&m.TruePositives, 1)
		case predicted && !actual:
			atomic.AddInt64(&m.FalsePositives, 1)
		case !predicted && !actual:
			atomic.AddInt64(&m.TrueNegatives, 1)
		default:
			atomic.AddInt64(&m.FalseNegatives, 1)
		}
		if actual {
			m.recordScheme(scheme, predicted)
		}
	}
}

func analyzeBatch(client *http.Client, baseURL, tenantID string, b LabeledBatch) (*domain.FraudAnalysisReport, error) {
	body, err := json.Marshal(b.Input)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/ai/fraud-detection", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report domain.FraudAnalysisReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Batches:          %d\n", m.TotalBatches)
	fmt.Printf("   Claims Scored:    %d\n", m.TotalClaims)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                  FLAG/BLOCK    PASS")
	fmt.Printf("   Injected      %10d %9d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Clean         %10d %9d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives, m.TotalClaims)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nRECALL BY SCHEME\n")
	for _, s := range schemes {
		total := m.schemeTotal[s]
		fmt.Printf("   %-12s %6d / %-6d (%.2f%%)\n", s, m.schemeHit[s], total, 100*ratio(m.schemeHit[s], total))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalBatches > 0 {
		fmt.Printf("   Avg Batch Latency: %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalBatches))
		fmt.Printf("   Throughput:        %.2f claims/sec\n", float64(m.TotalClaims)/duration.Seconds())
	}
	fmt.Println()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
