// Command stress checks that concurrent transfers cannot overdraw an account.
// It signs up a sender and a receiver, fires many simultaneous transfers from
// the sender and verifies that no more than the sender's balance moved and
// that the two balances still add up to what they started with.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/models"
)

const (
	// DefaultURL is the base URL of the API under test
	DefaultURL = "http://localhost:8080"

	// DefaultConcurrency is the number of concurrent requests
	DefaultConcurrency = 50

	// DefaultAmount is the amount every transfer tries to move
	DefaultAmount = "80"
)

// TestConfig holds the stress test configuration
type TestConfig struct {
	BaseURL            string
	ConcurrentRequests int
	Amount             decimal.Decimal
}

// TestResults tracks the outcomes of all requests
type TestResults struct {
	SuccessCount      int32
	InsufficientCount int32
	OtherRejectCount  int32
	ErrorCount        int32
	Duration          time.Duration
}

type user struct {
	ID    string
	Token string
}

func main() {
	config := TestConfig{}
	amount := flag.String("amount", DefaultAmount, "Amount of every transfer")
	flag.StringVar(&config.BaseURL, "url", DefaultURL, "API base URL")
	flag.IntVar(&config.ConcurrentRequests, "concurrent", DefaultConcurrency, "Number of concurrent requests")
	flag.Parse()

	var err error
	if config.Amount, err = decimal.NewFromString(*amount); err != nil {
		log.Fatalf("Invalid -amount: %v", err)
	}

	fmt.Println("  LEDGER API - CONCURRENT OVERDRAW TEST")
	fmt.Println("Setting up test users...")
	sender, err := newUser(config.BaseURL)
	if err != nil {
		log.Fatalf("Failed to set up sender: %v", err)
	}
	receiver, err := newUser(config.BaseURL)
	if err != nil {
		log.Fatalf("Failed to set up receiver: %v", err)
	}

	before, err := balances(config.BaseURL, sender, sender.ID, receiver.ID)
	if err != nil {
		log.Fatalf("Failed to read balances: %v", err)
	}

	fmt.Printf("Endpoint:       %s/transfer\n", config.BaseURL)
	fmt.Printf("Concurrency:    %d requests\n", config.ConcurrentRequests)
	fmt.Printf("Payment:        %s from %s to %s\n", config.Amount.StringFixed(2), sender.ID, receiver.ID)
	fmt.Println("---------------------------------------------------------------")

	results := runStressTest(config, sender, receiver)

	after, err := balances(config.BaseURL, sender, sender.ID, receiver.ID)
	if err != nil {
		log.Fatalf("Failed to read balances: %v", err)
	}
	if !printResults(results, config, before, after) {
		os.Exit(1)
	}
}

// newUser signs up a throwaway user and signs it in
func newUser(baseURL string) (user, error) {
	creds := map[string]string{
		"username":  "stress-" + uuid.NewString(),
		"password":  uuid.NewString(),
		"birthdate": "1990-01-01",
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := postJSON(baseURL+"/users/signup", "", creds, http.StatusCreated, &created); err != nil {
		return user{}, err
	}

	var token struct {
		Token string `json:"token"`
	}
	if err := postJSON(baseURL+"/users/signin", "", creds, http.StatusOK, &token); err != nil {
		return user{}, err
	}
	return user{ID: created.ID, Token: token.Token}, nil
}

func postJSON(url, token string, body interface{}, want int, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("POST %s: status %d, want %d", url, resp.StatusCode, want)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// balances reads the accounts of the given users from GET /users
func balances(baseURL string, as user, ids ...string) ([]models.Account, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+as.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /users: status %d", resp.StatusCode)
	}

	var list []models.User
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	byID := make(map[string]models.User, len(list))
	for _, u := range list {
		byID[u.ID] = u
	}
	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("user %s not listed", id)
		}
		out = append(out, u.Account())
	}
	return out, nil
}

// runStressTest executes concurrent requests and returns aggregated results
func runStressTest(config TestConfig, sender, receiver user) TestResults {
	var (
		results TestResults
		wg      sync.WaitGroup
		start   = time.Now()
	)

	fmt.Printf("\nLaunching %d concurrent requests...\n", config.ConcurrentRequests)

	for i := 0; i < config.ConcurrentRequests; i++ {
		wg.Add(1)
		go func(requestID int) {
			defer wg.Done()
			executeRequest(config, requestID, sender, receiver, &results)
		}(i)
	}

	wg.Wait()
	results.Duration = time.Since(start)

	return results
}

// executeRequest sends a single transfer and updates results atomically
func executeRequest(config TestConfig, requestID int, sender, receiver user, results *TestResults) {
	payload, err := json.Marshal(models.TransferRequest{FromID: sender.ID, ToID: receiver.ID, Amount: config.Amount})
	if err != nil {
		log.Printf("[Request %d] Failed to marshal JSON: %v", requestID, err)
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}

	req, err := http.NewRequest(http.MethodPost, config.BaseURL+"/transfer", bytes.NewReader(payload))
	if err != nil {
		log.Printf("[Request %d] Failed to create request: %v", requestID, err)
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sender.Token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("[Request %d] HTTP error: %v", requestID, err)
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		atomic.AddInt32(&results.SuccessCount, 1)
	case http.StatusBadRequest:
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "insufficient_funds" {
			atomic.AddInt32(&results.InsufficientCount, 1)
		} else {
			atomic.AddInt32(&results.OtherRejectCount, 1)
		}
	default:
		log.Printf("[Request %d] Unexpected status: %d", requestID, resp.StatusCode)
		atomic.AddInt32(&results.ErrorCount, 1)
	}
}

// printResults displays formatted test results and returns the verdict
func printResults(results TestResults, config TestConfig, before, after []models.Account) bool {
	fmt.Println("                    TEST RESULTS")
	fmt.Printf("Duration:                     %v\n", results.Duration)
	fmt.Printf("Requests per second:          %.2f\n", float64(config.ConcurrentRequests)/results.Duration.Seconds())
	fmt.Printf("[SUCCESS]      Transfers applied:      %d\n", results.SuccessCount)
	fmt.Printf("[INSUFFICIENT] Rejected, no funds:     %d\n", results.InsufficientCount)
	fmt.Printf("[REJECTED]     Other rejections:       %d\n", results.OtherRejectCount)
	fmt.Printf("[ERROR]        Network/Server errors:  %d\n", results.ErrorCount)
	fmt.Printf("Sender:   %s -> %s\n", before[0].Balance.StringFixed(2), after[0].Balance.StringFixed(2))
	fmt.Printf("Receiver: %s -> %s\n", before[1].Balance.StringFixed(2), after[1].Balance.StringFixed(2))

	moved := config.Amount.Mul(decimal.NewFromInt32(results.SuccessCount))
	maxSuccesses := before[0].Balance.Div(config.Amount).Floor()

	passed := true
	if !ledger.ConservedTotal(before...).Equal(ledger.ConservedTotal(after...)) {
		fmt.Println("  * CRITICAL: total balance changed")
		passed = false
	}
	if after[0].Balance.IsNegative() {
		fmt.Println("  * CRITICAL: sender balance went negative")
		passed = false
	}
	if !before[0].Balance.Sub(after[0].Balance).Equal(moved) {
		fmt.Printf("  * CRITICAL: %d successes but sender lost %s\n", results.SuccessCount, before[0].Balance.Sub(after[0].Balance).StringFixed(2))
		passed = false
	}
	if decimal.NewFromInt32(results.SuccessCount).GreaterThan(maxSuccesses) {
		fmt.Printf("  * CRITICAL: %d successes, at most %s possible (lost update)\n", results.SuccessCount, maxSuccesses)
		passed = false
	}
	if results.ErrorCount > 0 {
		fmt.Printf("  * Network/server errors: %d\n", results.ErrorCount)
		passed = false
	}

	if passed {
		fmt.Println("TEST PASSED: no overdraw, balances conserved")
	} else {
		fmt.Println("TEST FAILED: System has critical issues")
	}
	return passed
}
