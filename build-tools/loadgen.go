//go:build ignore

// Run: go run ./build-tools/loadgen.go -addr http://localhost:8080 -rps 50 -duration 60s -workers 32 -token $(go run ./cmd/tlcharts token)

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// a mix of repeated questions (cache hits) and one-off variants (misses)
var questions = []string{
	"daily dex volume on solana",
	"solana transaction success rate",
	"how much do validators earn from priority fees",
	"jito tips over time",
	"raydium vs orca volume",
	"failed transactions per day",
	"real economic value of solana",
	"swap count last month",
}

type stats struct {
	mu        sync.Mutex
	codes     map[int]int
	sources   map[string]int
	latencies []time.Duration
	errors    int
}

func (s *stats) record(code int, source string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.codes[code]++
	if source != "" {
		s.sources[source]++
	}
	s.latencies = append(s.latencies, d)
}

func main() {
	var (
		addr     = flag.String("addr", "http://localhost:8080", "tlcharts base url")
		rps      = flag.Int("rps", 50, "requests per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		workers  = flag.Int("workers", 16, "max in-flight requests")
		unique   = flag.Float64("unique", 0.2, "share of questions made unique to force cache misses")
		token    = flag.String("token", "", "bearer token when jwt is enabled")
		extra    = flag.String("questions", "", "comma-separated extra questions")
	)
	flag.Parse()

	pool := append(slices.Clone(questions), splitTrim(*extra)...)
	if *rps <= 0 || *workers <= 0 {
		fmt.Println("rps and workers must be positive")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	endpoint := strings.TrimRight(*addr, "/") + "/api/nlp-chart"

	fmt.Printf("loadgen → endpoint=%s rps=%d duration=%s workers=%d\n", endpoint, *rps, duration.String(), *workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := &stats{codes: map[int]int{}, sources: map[string]int{}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)

	start := time.Now()
	end := start.Add(*duration)

	// steady pace with a little drift
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0 // 10 ticks in sec
	accum := 0.0
	seq := 0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case now := <-tick.C:
			if now.After(end) {
				break loop
			}

			accum += perTick
			batch := int(math.Floor(accum))
			if batch <= 0 {
				continue
			}
			accum -= float64(batch)

			for i := 0; i < batch; i++ {
				seq++
				q := pool[mrand.Intn(len(pool))]
				if mrand.Float64() < *unique {
					q = fmt.Sprintf("%s #%d", q, seq)
				}
				g.Go(func() error {
					code, source, d, err := ask(gctx, client, endpoint, *token, q)
					st.record(code, source, d, err)
					return nil
				})
			}
		}
	}

	fmt.Println("waiting for in-flight requests…")
	_ = g.Wait()
	report(st, time.Since(start))
}

func ask(ctx context.Context, c *http.Client, endpoint, token, q string) (int, string, time.Duration, error) {
	body, _ := json.Marshal(map[string]string{"query": q})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return 0, "", 0, err
	}
	defer resp.Body.Close()

	var env struct {
		Data struct {
			Source string `json:"source"`
		} `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env.Data.Source, time.Since(start), nil
}

func report(st *stats, elapsed time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sort.Slice(st.latencies, func(i, j int) bool { return st.latencies[i] < st.latencies[j] })
	n := len(st.latencies)
	fmt.Printf("done: %d responses, %d transport errors in %s (%.1f rps)\n",
		n, st.errors, elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds())
	if n == 0 {
		return
	}

	pct := func(p float64) time.Duration { return st.latencies[int(math.Ceil(p*float64(n)))-1] }
	fmt.Printf("latency p50=%s p90=%s p99=%s max=%s\n", pct(0.5), pct(0.9), pct(0.99), st.latencies[n-1])
	fmt.Printf("status codes: %v\n", st.codes)
	fmt.Printf("sources: %v\n", st.sources)
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
