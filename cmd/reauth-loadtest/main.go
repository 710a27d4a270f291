// Command reauth-loadtest drives the Redis-backed pieces of the engine under
// concurrency: activation stamp checks, challenge issue, and the
// single-use consume race. Any challenge consumed more than once is reported
// and makes the process exit non-zero.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goReauth/internal/stores"
	"github.com/MrEthical07/goReauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per throughput phase")
		races       = flag.Int("races", 2000, "challenges raced in the consume phase")
		racers      = flag.Int("racers", 8, "concurrent consumers per raced challenge")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *races <= 0 || *racers < 2 {
		fmt.Fprintln(os.Stderr, "users, concurrency, ops and races must be > 0; racers must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	stamps := session.NewStore(client, *prefix+":rs", 24*time.Hour)
	challenges := stores.NewReauthChallengeStore(client, *prefix+":rch", time.Minute)

	fmt.Printf("seeding %d activation stamps...\n", *users)
	seedStart := time.Now()
	current := make([]string, *users)
	for i := range current {
		stamp, err := stamps.Bump(ctx, int64(i+1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		current[i] = stamp
	}
	fmt.Printf("seeded in %s\n", time.Since(seedStart).Round(time.Millisecond))

	verify := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		idx := r.Intn(len(current))
		live, err := stamps.IsLive(ctx, int64(idx+1), current[idx])
		if err == nil && !live {
			return fmt.Errorf("stamp for user %d not live", idx+1)
		}
		return err
	})

	issue := runPhase(*ops, *concurrency, func(r *rand.Rand, i int) error {
		uid := int64(r.Intn(*users) + 1)
		return challenges.Save(ctx, challengeFor(uid, "issue-"+strconv.Itoa(i)))
	})

	race := runConsumeRace(ctx, challenges, *races, *racers, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verify)
	printStats("issue", issue)
	fmt.Printf("consume-race: challenges=%d racers=%d won=%d lost=%d errors=%d double_spent=%d\n",
		race.challenges, *racers, race.won, race.lost, race.errors, race.doubleSpent)

	if race.doubleSpent > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func challengeFor(uid int64, id string) *stores.ReauthChallenge {
	now := time.Now()
	return &stores.ReauthChallenge{
		ID:        id,
		UserID:    uid,
		Method:    "password",
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(5 * time.Minute).UnixMilli(),
	}
}

type raceStats struct {
	challenges  int
	won         int64
	lost        int64
	errors      int64
	doubleSpent int64
}

// runConsumeRace saves one challenge per user and lets racers goroutines
// consume it at the same moment. Exactly one may win.
func runConsumeRace(ctx context.Context, challenges *stores.ReauthChallengeStore, races, racers, concurrency int) raceStats {
	var (
		stats  = raceStats{challenges: races}
		cursor int64
		wg     sync.WaitGroup
	)
	workers := concurrency / racers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1))
				if i > races {
					return
				}
				uid := int64(1_000_000 + i)
				id := "race-" + strconv.Itoa(i)
				if err := challenges.Save(ctx, challengeFor(uid, id)); err != nil {
					atomic.AddInt64(&stats.errors, 1)
					continue
				}

				var (
					start = make(chan struct{})
					wins  int64
					inner sync.WaitGroup
				)
				for r := 0; r < racers; r++ {
					inner.Add(1)
					go func() {
						defer inner.Done()
						<-start
						err := challenges.Consume(ctx, uid, id, time.Now())
						switch err {
						case nil:
							atomic.AddInt64(&wins, 1)
						case stores.ErrChallengeConsumed:
							atomic.AddInt64(&stats.lost, 1)
						default:
							atomic.AddInt64(&stats.errors, 1)
						}
					}()
				}
				close(start)
				inner.Wait()

				atomic.AddInt64(&stats.won, wins)
				if wins > 1 {
					atomic.AddInt64(&stats.doubleSpent, 1)
				}
			}
		}()
	}
	wg.Wait()
	return stats
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
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
				t0 := time.Now()
				err := op(r, i)
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
