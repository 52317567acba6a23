package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eis-1/electrical-supplier-website-sub001/internal"
	"github.com/eis-1/electrical-supplier-website-sub001/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	flagLoadRecords     int
	flagLoadConcurrency int
	flagLoadOps         int
	flagLoadRedisURL    string
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure refresh record lookups and rotations against Redis",
	Long: `loadtest seeds refresh records into the Redis session store and runs
two phases: random lookups, then rotations. Without --redis-url it runs on an
in-process miniredis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagLoadRecords <= 0 || flagLoadConcurrency <= 0 || flagLoadOps <= 0 {
			return errors.New("records, concurrency and ops must be > 0")
		}
		out := cmd.OutOrStdout()

		client, cleanup, err := loadtestRedis(out, flagLoadRedisURL)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store := session.NewRedisStore(client, cfg.Auth.Session.RedisPrefix+":loadtest", time.Hour)

		fmt.Fprintf(out, "seeding %d records...\n", flagLoadRecords)
		start := time.Now()
		states, err := seedRecords(ctx, store, flagLoadRecords)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "seeded in %s\n", time.Since(start).Round(time.Millisecond))

		lookups := runPhase(flagLoadOps, flagLoadConcurrency, func(r *rand.Rand) error {
			st := &states[r.Intn(len(states))]
			st.mu.Lock()
			id := st.id
			st.mu.Unlock()
			_, err := store.Get(ctx, id)
			return err
		})
		rotations := runPhase(flagLoadOps, flagLoadConcurrency, func(r *rand.Rand) error {
			st := &states[r.Intn(len(states))]
			st.mu.Lock()
			defer st.mu.Unlock()
			next, err := newSeed()
			if err != nil {
				return err
			}
			next.ExpiresAt = time.Now().Add(24 * time.Hour).Unix()
			if _, err := store.Rotate(ctx, st.id, st.hash, next, time.Now()); err != nil {
				return err
			}
			st.id, st.hash = next.ID, next.SecretHash
			return nil
		})

		fmt.Fprintln(out, "---- results ----")
		printStats(out, "lookup", lookups)
		printStats(out, "rotate", rotations)
		return nil
	},
}

func init() {
	loadtestCmd.Flags().IntVar(&flagLoadRecords, "records", 10000, "Refresh records to seed")
	loadtestCmd.Flags().IntVar(&flagLoadConcurrency, "concurrency", 64, "Concurrent workers")
	loadtestCmd.Flags().IntVar(&flagLoadOps, "ops", 50000, "Operations per phase")
	loadtestCmd.Flags().StringVar(&flagLoadRedisURL, "redis-url", "", "Redis URL; empty runs on miniredis")
	rootCmd.AddCommand(loadtestCmd)
}

type recordState struct {
	mu   sync.Mutex
	id   string
	hash [32]byte
}

func loadtestRedis(out io.Writer, url string) (redis.UniversalClient, func(), error) {
	if url == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	fmt.Fprintf(out, "using redis at %s\n", opts.Addr)
	return client, func() { _ = client.Close() }, nil
}

func newSeed() (session.Successor, error) {
	id, err := internal.NewRecordID()
	if err != nil {
		return session.Successor{}, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return session.Successor{}, err
	}
	return session.Successor{ID: id.String(), SecretHash: internal.HashRefreshSecret(secret)}, nil
}

func seedRecords(ctx context.Context, store *session.RedisStore, n int) ([]recordState, error) {
	states := make([]recordState, n)
	now := time.Now()
	for i := range states {
		seed, err := newSeed()
		if err != nil {
			return nil, err
		}
		rec := &session.Record{
			ID:         seed.ID,
			AccountID:  fmt.Sprintf("loadtest-%d", i%100),
			Role:       "viewer",
			SecretHash: seed.SecretHash,
			IssuedAt:   now.Unix(),
			ExpiresAt:  now.Add(24 * time.Hour).Unix(),
		}
		if err := store.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed record %d: %w", i, err)
		}
		states[i].id, states[i].hash = seed.ID, seed.SecretHash
	}
	return states, nil
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

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
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

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
