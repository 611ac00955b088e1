// Benchmark tool for replaying payment data against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/payments.csv -url http://localhost:8080
//
// This tool:
//   1. Reads payment transaction data from CSV
//   2. Sends each transaction to Kestrel for fee resolution
//   3. Tracks match rate, fee totals, latency and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord represents a row from the payments dataset.
type PaymentRecord struct {
	Merchant        string
	CardScheme      string
	Year            int
	DayOfYear       int
	IsCredit        bool
	Amount          decimal.Decimal
	IssuingCountry  string
	AcquirerCountry string
	ACI             string
	Fraudulent      bool
}

// ResolveRequest is the Kestrel API request format.
type ResolveRequest struct {
	Transaction TransactionInput `json:"transaction"`
}

type TransactionInput struct {
	MerchantID      string          `json:"merchantId"`
	Amount          decimal.Decimal `json:"amount"`
	CardScheme      string          `json:"cardScheme"`
	IsCredit        bool            `json:"isCredit"`
	ACI             string          `json:"aci"`
	IssuingCountry  string          `json:"issuingCountry"`
	AcquirerCountry string          `json:"acquirerCountry"`
	Year            int             `json:"year"`
	DayOfYear       int             `json:"dayOfYear"`
	Fraudulent      bool            `json:"fraudulent"`
}

// ResolveResponse is the Kestrel API response format.
type ResolveResponse struct {
	ResolutionID string          `json:"resolutionId"`
	RuleID       string          `json:"ruleId"`
	Fee          decimal.Decimal `json:"fee"`
	Matched      bool            `json:"matched"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	Matched        int64
	Unmatched      int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu       sync.Mutex
	TotalFee decimal.Decimal
}

func (m *Metrics) addFee(fee decimal.Decimal) {
	m.mu.Lock()
	m.TotalFee = m.TotalFee.Add(fee)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to payments CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/payments.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Fee Resolution Replay            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading payment data from %s...\n", *csvPath)
	records, err := readPaymentsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(records))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

func readPaymentsCSV(path string, limit int) ([]PaymentRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var records []PaymentRecord

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := decimal.NewFromString(record[colIndex["eur_amount"]])
		if err != nil {
			continue
		}

		year, _ := strconv.Atoi(record[colIndex["year"]])
		dayOfYear, _ := strconv.Atoi(record[colIndex["day_of_year"]])

		records = append(records, PaymentRecord{
			Merchant:        record[colIndex["merchant"]],
			CardScheme:      record[colIndex["card_scheme"]],
			Year:            year,
			DayOfYear:       dayOfYear,
			IsCredit:        record[colIndex["is_credit"]] == "True" || record[colIndex["is_credit"]] == "true",
			Amount:          amount,
			IssuingCountry:  record[colIndex["issuing_country"]],
			AcquirerCountry: record[colIndex["acquirer_country"]],
			ACI:             record[colIndex["aci"]],
			Fraudulent:      record[colIndex["has_fraudulent_dispute"]] == "True" || record[colIndex["has_fraudulent_dispute"]] == "true",
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(records []PaymentRecord, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{TotalFee: decimal.Zero}

	work := make(chan PaymentRecord, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				result, err := resolveTransaction(client, baseURL, tenantID, rec)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", rec.Merchant, err)
					}
					continue
				}

				if result.Matched {
					atomic.AddInt64(&metrics.Matched, 1)
				} else {
					atomic.AddInt64(&metrics.Unmatched, 1)
				}
				metrics.addFee(result.Fee)

				if verbose {
					status := "✓"
					if !result.Matched {
						status = "✗"
					}
					fmt.Printf("%s %-18s | Scheme: %-12s | Amount: €%12s | ACI: %s | Fee: %s\n",
						status,
						rec.Merchant,
						rec.CardScheme,
						rec.Amount,
						rec.ACI,
						result.Fee,
					)
				}
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)

	wg.Wait()

	return metrics
}

func resolveTransaction(client *http.Client, baseURL, tenantID string, rec PaymentRecord) (*ResolveResponse, error) {
	req := ResolveRequest{
		Transaction: TransactionInput{
			MerchantID:      rec.Merchant,
			Amount:          rec.Amount,
			CardScheme:      rec.CardScheme,
			IsCredit:        rec.IsCredit,
			ACI:             rec.ACI,
			IssuingCountry:  rec.IssuingCountry,
			AcquirerCountry: rec.AcquirerCountry,
			Year:            rec.Year,
			DayOfYear:       rec.DayOfYear,
			Fraudulent:      rec.Fraudulent,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/resolve", bytes.NewReader(body))
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

	var result ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RESOLUTION STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Matched:          %d\n", m.Matched)
	fmt.Printf("   Unmatched:        %d\n", m.Unmatched)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	resolved := m.Matched + m.Unmatched
	if resolved > 0 {
		matchRate := float64(m.Matched) / float64(resolved) * 100
		fmt.Printf("   Match Rate:       %.2f%%\n", matchRate)
	}

	fmt.Printf("\n💶 FEE TOTALS\n")
	fmt.Printf("   Total Fees:       €%s\n", m.TotalFee.StringFixed(2))
	if resolved > 0 {
		avg := m.TotalFee.Div(decimal.NewFromInt(resolved))
		fmt.Printf("   Average Fee:      €%s\n", avg.StringFixed(4))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
