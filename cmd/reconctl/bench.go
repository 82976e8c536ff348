package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

type benchOptions struct {
	targetURL string
	reference string
	secret    string
	amount    int64
	workers   int
	duration  time.Duration
	out       string
}

type benchCounters struct {
	total   atomic.Uint64
	ok200   atomic.Uint64
	bad400  atomic.Uint64
	other   atomic.Uint64
	failure atomic.Uint64
}

// benchCmd replays the same signed Paystack charge.success webhook from many
// workers at once. A healthy server answers every delivery with 200 and
// applies the transition exactly once.
func benchCmd() *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent duplicate signed webhooks at a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.reference == "" {
				return fmt.Errorf("--reference is required")
			}
			if o.secret == "" {
				o.secret = os.Getenv("PAYSTACK_SECRET_KEY")
			}
			if o.secret == "" {
				return fmt.Errorf("--secret or PAYSTACK_SECRET_KEY is required")
			}
			return runBench(o)
		},
	}
	cmd.Flags().StringVar(&o.targetURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&o.reference, "reference", "", "Transaction reference to confirm")
	cmd.Flags().StringVar(&o.secret, "secret", "", "Paystack secret key used to sign bodies")
	cmd.Flags().Int64Var(&o.amount, "amount-kobo", 500000, "Charge amount in kobo")
	cmd.Flags().IntVar(&o.workers, "workers", 10, "Number of concurrent workers")
	cmd.Flags().DurationVar(&o.duration, "duration", 10*time.Second, "Test duration")
	cmd.Flags().StringVar(&o.out, "out", "", "Also write results as JSON to this file")
	return cmd
}

func runBench(o benchOptions) error {
	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference":        o.reference,
			"status":           "success",
			"amount":           o.amount,
			"channel":          "card",
			"gateway_response": "Approved",
			"paid_at":          time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}
	mac := hmac.New(sha512.New, []byte(o.secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))
	url := strings.TrimRight(o.targetURL, "/") + "/webhooks/paystack"

	fmt.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s\n", o.reference, o.workers, o.duration)

	var c benchCounters
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(o.workers)
	for w := 0; w < o.workers; w++ {
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			for time.Since(start) < o.duration {
				req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Paystack-Signature", signature)

				resp, err := client.Do(req)
				if err != nil {
					c.failure.Add(1)
					continue
				}
				c.total.Add(1)
				switch resp.StatusCode {
				case http.StatusOK:
					c.ok200.Add(1)
				case http.StatusBadRequest:
					c.bad400.Add(1)
				default:
					c.other.Add(1)
				}
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := c.total.Load()
	results := map[string]any{
		"reference":      o.reference,
		"duration_sec":   elapsed.Seconds(),
		"total_requests": total,
		"throughput_rps": float64(total) / elapsed.Seconds(),
		"status_200":     c.ok200.Load(),
		"status_400":     c.bad400.Load(),
		"status_other":   c.other.Load(),
		"errors":         c.failure.Load(),
	}
	if err := printJSON(results); err != nil {
		return err
	}
	if o.out == "" {
		return nil
	}
	f, err := os.Create(o.out)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(results)
}
