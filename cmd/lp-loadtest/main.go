package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	luckperms "github.com/bergwerkLABS/LuckPerms"
	"github.com/bergwerkLABS/LuckPerms/contexts"
	"github.com/bergwerkLABS/LuckPerms/storage/redisstore"
)

func main() {
	var (
		users       = flag.Int("users", 10000, "number of user subjects to seed")
		groups      = flag.Int("groups", 50, "number of groups in the inheritance chain")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (resolve + churn)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lp", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *groups <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, groups, concurrency, and ops must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := redisstore.New(client, zerolog.Nop(), redisstore.WithPrefix(*prefix))

	svc, err := luckperms.New().
		WithStore(store).
		WithLogger(zerolog.Nop()).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Printf("seeding %d groups and %d users...\n", *groups, *users)
	startSeed := time.Now()
	userSubjects, err := seed(ctx, svc, *groups, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	active := contexts.Of("server", "survival", "world", "overworld")
	resolveStats := runResolvePhase(ctx, svc, userSubjects, active, *ops, *concurrency)
	churnStats := runChurnPhase(ctx, svc, userSubjects, active, *groups, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("resolve", resolveStats)
	printStats("churn", churnStats)

	snap := svc.MetricsSnapshot()
	fmt.Println("---- engine metrics ----")
	ids := make([]luckperms.MetricID, 0, len(snap.Counters))
	for id := range snap.Counters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Printf("%s=%d\n", id, snap.Counters[id])
	}
	fmt.Printf("saves_dropped=%d\n", svc.SavesDropped())
}

// seed builds a linear group chain (group-0 inherits group-1, and so on),
// grants each group one permission, and attaches every user to a random
// group so resolution has to walk a real graph.
func seed(ctx context.Context, svc *luckperms.Service, groups, users int) ([]*luckperms.Subject, error) {
	groupCol, err := svc.Collection(ctx, "group")
	if err != nil {
		return nil, err
	}
	userCol, err := svc.Collection(ctx, "user")
	if err != nil {
		return nil, err
	}

	for i := 0; i < groups; i++ {
		name := fmt.Sprintf("group-%d", i)
		g, err := groupCol.LoadSubject(ctx, name).Join()
		if err != nil {
			return nil, err
		}
		perm := fmt.Sprintf("rank.%d.badge", i)
		if _, err := g.Data().SetPermission(contexts.Empty(), perm, true).Join(); err != nil {
			return nil, err
		}
		if i+1 < groups {
			parent := luckperms.NewSubjectRef("group", fmt.Sprintf("group-%d", i+1))
			if _, err := g.Data().AddParent(contexts.Empty(), parent).Join(); err != nil {
				return nil, err
			}
		}
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := make([]*luckperms.Subject, 0, users)
	for i := 0; i < users; i++ {
		u, err := userCol.LoadSubject(ctx, uuid.NewString()).Join()
		if err != nil {
			return nil, err
		}
		parent := luckperms.NewSubjectRef("group", fmt.Sprintf("group-%d", r.Intn(groups)))
		if _, err := u.Data().AddParent(contexts.Empty(), parent).Join(); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// runResolvePhase hammers Resolve against already-warm subjects; throughput
// here is dominated by the per-subject resolution caches.
func runResolvePhase(ctx context.Context, svc *luckperms.Service, subjects []*luckperms.Subject, active contexts.Set, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		undefined int64
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
				sub := subjects[r.Intn(len(subjects))]
				perm := fmt.Sprintf("rank.%d.badge", r.Intn(64))
				t0 := time.Now()
				v := svc.Resolve(ctx, sub, active, perm)
				d := time.Since(t0)
				if v == luckperms.Undefined {
					atomic.AddInt64(&undefined, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, undefined)
}

// runChurnPhase mixes resolution with group mutations so every write tears
// down caches across the dependent subtree. This is the worst case for the
// invalidation index.
func runChurnPhase(ctx context.Context, svc *luckperms.Service, subjects []*luckperms.Subject, active contexts.Set, groups, ops, concurrency int) phaseStats {
	groupCol, err := svc.Collection(ctx, "group")
	if err != nil {
		fmt.Fprintf(os.Stderr, "collection lookup failed: %v\n", err)
		os.Exit(1)
	}

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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}

				t0 := time.Now()
				if i%100 == 0 {
					// One write per hundred ops, roughly the shape of a
					// live server applying rank edits under query load.
					name := fmt.Sprintf("group-%d", r.Intn(groups))
					g, err := groupCol.LoadSubject(ctx, name).Join()
					if err != nil {
						atomic.AddInt64(&failures, 1)
					} else {
						perm := fmt.Sprintf("churn.%d", i)
						if _, err := g.Data().SetPermission(contexts.Empty(), perm, i%200 == 0).Join(); err != nil {
							atomic.AddInt64(&failures, 1)
						}
					}
				} else {
					sub := subjects[r.Intn(len(subjects))]
					svc.Resolve(ctx, sub, active, fmt.Sprintf("rank.%d.badge", r.Intn(64)))
				}
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50,
		s.p95,
		s.p99,
	)
}
