package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

var (
	targetURL = pflag.String("url", "http://localhost:8080/v1/webhook/telegram", "webhook URL")
	secret    = pflag.String("secret", "change-me", "X-Telegram-Bot-Api-Secret-Token value")
	workers   = pflag.IntP("concurrency", "c", 50, "concurrent senders")
	total     = pflag.IntP("updates", "n", 10000, "distinct updates to send")
	users     = pflag.Int("users", 500, "distinct chat ids")
	dupRatio  = pflag.Float64("dup", 0.1, "share of updates sent twice (redelivery)")
	timeout   = pflag.Duration("timeout", 5*time.Second, "per-request timeout")
)

var (
	sent      atomic.Int64
	accepted  atomic.Int64
	duplicate atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	latSum    atomic.Int64 // microseconds
	latCount  atomic.Int64
)

type ack struct {
	ID    int64 `json:"id"`
	IsNew bool  `json:"is_new"`
}

func main() {
	pflag.Parse()

	fmt.Printf("webhook load test\n  target: %s\n  updates: %d (dup %.0f%%)\n  concurrency: %d\n",
		*targetURL, *total, *dupRatio*100, *workers)

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = *workers
	client := &http.Client{Timeout: *timeout, Transport: tr}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go report(ctx)

	jobs := make(chan int64, *workers)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				post(ctx, client, id)
			}
		}()
	}

	start := time.Now()
	base := time.Now().UnixMilli()
	for i := 0; i < *total; i++ {
		id := base + int64(i)
		jobs <- id
		if rand.Float64() < *dupRatio {
			jobs <- id
		}
	}
	close(jobs)
	wg.Wait()
	cancel()

	elapsed := time.Since(start)
	fmt.Printf("done in %v: sent=%d new=%d duplicate=%d rejected=%d failed=%d (%.0f req/s, avg %.2f ms)\n",
		elapsed.Round(time.Millisecond), sent.Load(), accepted.Load(), duplicate.Load(), rejected.Load(), failed.Load(),
		float64(sent.Load())/elapsed.Seconds(), avgLatencyMs())
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

func post(ctx context.Context, client *http.Client, updateID int64) {
	chatID := 100000 + updateID%int64(*users)
	body, _ := json.Marshal(map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": updateID,
			"date":       time.Now().Unix(),
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"from":       map[string]any{"id": chatID, "first_name": "Load"},
			"text":       "/start",
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(body))
	if err != nil {
		failed.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", *secret)

	began := time.Now()
	resp, err := client.Do(req)
	sent.Add(1)
	if err != nil {
		if failed.Add(1) == 1 {
			fmt.Printf("request error: %v\n", err)
		}
		return
	}
	defer resp.Body.Close()
	latSum.Add(time.Since(began).Microseconds())
	latCount.Add(1)

	switch {
	case resp.StatusCode == http.StatusOK:
		var a ack
		if err := json.NewDecoder(resp.Body).Decode(&a); err == nil && !a.IsNew {
			duplicate.Add(1)
			return
		}
		accepted.Add(1)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		rejected.Add(1)
	default:
		if failed.Add(1) == 1 {
			fmt.Printf("unexpected status: %d\n", resp.StatusCode)
		}
	}
}

func avgLatencyMs() float64 {
	n := latCount.Load()
	if n == 0 {
		return 0
	}
	return float64(latSum.Load()) / float64(n) / 1000
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("[%s] sent: %d | new: %d | dup: %d | rejected: %d | failed: %d | avg: %.2f ms\n",
				time.Now().Format("15:04:05"), sent.Load(), accepted.Load(), duplicate.Load(),
				rejected.Load(), failed.Load(), avgLatencyMs())
		}
	}
}
