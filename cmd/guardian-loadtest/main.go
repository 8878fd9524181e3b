// Command guardian-loadtest measures VerifyAccess, Authorize and Refresh
// throughput of an engine backed by Redis (or an embedded miniredis).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
	"github.com/MrEthical07/guardian/store/memory"
)

const loadPassword = "Load-Test-Passw0rd"

type userState struct {
	claims  *guardian.Claims
	access  string
	refresh string
	childID string
	mu      sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to register and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := guardian.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("guardian-loadtest-signing-key-0123456789")
	// Hashing cost is not what is measured here.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Account.AutoVerify = true
	cfg.Audit.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	dir := memory.NewDirectory()
	engine, err := guardian.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserRepository(memory.NewUsers()).
		WithGrantRepository(memory.NewGrants()).
		WithResourceDirectory(dir).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]userState, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := range states {
		u, err := engine.Register(ctx, guardian.RegisterRequest{
			Email:    fmt.Sprintf("load-%d@example.com", i),
			Password: loadPassword,
			Role:     guardian.RoleParent,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		pair, err := engine.Authenticate(ctx, u.Email, loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		claims, err := engine.VerifyAccess(ctx, pair.AccessToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
			os.Exit(1)
		}
		childID := fmt.Sprintf("child-%d", i)
		dir.AddChild(childID, u.ID)
		states[i] = userState{claims: claims, access: pair.AccessToken, refresh: pair.RefreshToken, childID: childID}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(states, *ops, *concurrency, func(s *userState) error {
		_, err := engine.VerifyAccess(ctx, s.access)
		return err
	})
	authorizeStats := runPhase(states, *ops, *concurrency, func(s *userState) error {
		d, err := engine.Authorize(ctx, s.claims, guardian.ResourceRef{Class: guardian.ClassChild, ID: s.childID}, authz.ActionRead)
		if err != nil {
			return err
		}
		if !d.Allowed() {
			return fmt.Errorf("unexpected %s", d.Effect)
		}
		return nil
	})
	refreshStats := runPhase(states, *ops, *concurrency, func(s *userState) error {
		// Each chain can only move forward one rotation at a time.
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("verify_access", verifyStats)
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("replays=%d dependency_failures=%d\n",
		snap.Counters[guardian.MetricReplayDetected],
		snap.Counters[guardian.MetricDependencyFailure],
	)
}

func runPhase(states []userState, ops, concurrency int, op func(*userState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				s := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(s)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
