package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	walletsFile string
	amount      string
)

// Metrics
var (
	totalRequests uint64
	accepted200   uint64 // Withdrawal opened
	rejected422   uint64 // Insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "hotspot", "Workload type: uniform | hotspot")
	flag.StringVar(&walletsFile, "wallets", "wallets.txt", "Wallet ids written by the seeder")
	flag.StringVar(&amount, "amount", "100", "Withdrawal amount in minor units")
}

func main() {
	flag.Parse()

	wallets, err := loadWallets(walletsFile)
	if err != nil {
		log.Fatalf("Unable to load wallets: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Wallets: %d", workload, concurrency, duration, len(wallets))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, wallets)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, wallets []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	payload, _ := json.Marshal(map[string]string{"amount": amount})

	for time.Since(start) < duration {
		wallet := pickWallet(wallets)

		req, _ := http.NewRequest("POST", targetURL+"/wallets/"+wallet+"/withdraw", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&accepted200, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickWallet sends 90% of hotspot traffic to the first wallet, where the
// engine's overdraft check is contended.
func pickWallet(wallets []string) string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return wallets[0]
	}
	return wallets[rand.Intn(len(wallets))]
}

func loadWallets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no wallet ids found; run the seeder first")
	}
	return ids, nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&accepted200)
	insufficient := atomic.LoadUint64(&rejected422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(insufficient) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":              workload,
		"duration_sec":          d.Seconds(),
		"total_requests":        total,
		"throughput_tps":        tps,
		"withdrawals_opened":    ok,
		"insufficient_funds":    insufficient,
		"insufficient_rate_pct": rejectRate,
		"errors":                fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
