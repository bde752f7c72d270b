package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-groundhog/v1/presets"
	"github.com/mirkobrombin/go-groundhog/v1/procache"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	resetEvery  = flag.Int("r", 0, "Reset the cache every r requests per client (0 disables)")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d requests, %d concurrency, %d bytes payload", *requests, *concurrency, *dataSize)

	var computes atomic.Int64
	key := "bench_key"
	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}
	s := presets.NewStandalone(procache.Seed[[]byte]{Compute: map[string]procache.ComputeFunc[[]byte]{
		key: func(context.Context) ([]byte, error) {
			computes.Add(1)
			time.Sleep(time.Millisecond)
			return val, nil
		},
	}})
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	var ops int64
	var errorsCount int64

	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				if *resetEvery > 0 && j > 0 && j%*resetEvery == 0 {
					s.Cache.Reset(ctx)
				}
				if _, err := s.Cache.Get(ctx, key); err != nil {
					atomic.AddInt64(&errorsCount, 1)
				}
				atomic.AddInt64(&ops, 1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9 // ns

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	log.Printf("Computes: %d (resets: %d)", computes.Load(), s.Cache.Metrics().Resets)
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}
