// blobcache-benchmark drives a local Cache directly (no network hop) to
// measure store/load throughput under concurrent callers. Adapted from
// FlashDB's cmd/flashdb-benchmark (same flag set and client/worker
// shape), retargeted from TCP RESP clients to concurrent direct callers
// against a *blobcache.Cache, since a network layer is out of scope here.
//
// Usage:
//
//	blobcache-benchmark [flags]
//
// Flags:
//
//	-dir string       Cache directory (default a temp dir)
//	-clients int      Number of concurrent callers (default 50)
//	-requests int     Total number of operations (default 100000)
//	-payload int      Payload size in bytes (default 1024)
//	-test string      Test type: store,load,mixed (default "mixed")
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flashdb/pcache"
	"github.com/flashdb/pcache/internal/version"
)

func main() {
	dir := flag.String("dir", "", "Cache directory (default a temp dir)")
	clients := flag.Int("clients", 50, "Number of concurrent callers")
	requests := flag.Int("requests", 100000, "Total number of operations")
	payloadSize := flag.Int("payload", 1024, "Payload size in bytes")
	testType := flag.String("test", "mixed", "Test type: store,load,mixed")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("blobcache-benchmark %s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cacheDir := *dir
	if cacheDir == "" {
		tmp, err := os.MkdirTemp("", "blobcache-benchmark-")
		if err != nil {
			fmt.Fprintln(os.Stderr, "create temp dir:", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		cacheDir = tmp
	}

	opts := blobcache.NewOptions(cacheDir)
	opts.MaxConcurrentOperations = *clients
	cache, err := blobcache.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open cache:", err)
		os.Exit(1)
	}
	defer cache.Close()

	fmt.Println("====== blobcache benchmark ======")
	fmt.Printf("Directory: %s\n", cacheDir)
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Requests: %d\n", *requests)
	fmt.Printf("Payload: %s\n", humanize.Bytes(uint64(*payloadSize)))
	fmt.Printf("Test: %s\n", *testType)
	fmt.Println()

	payload := make([]byte, *payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	var completed int64
	var errored int64
	opsPerClient := *requests / *clients

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for j := 0; j < opsPerClient; j++ {
				key := fmt.Sprintf("cl%04dop%06d", clientID, j)

				op := *testType
				if op == "mixed" {
					if j%2 == 0 {
						op = "store"
					} else {
						op = "load"
					}
				}

				var done sync.WaitGroup
				done.Add(1)
				switch op {
				case "store":
					cache.Store(key, payload, false, func(r blobcache.Response) {
						if r.Result != blobcache.Succeeded {
							atomic.AddInt64(&errored, 1)
						}
						done.Done()
					}, inlineDispatch)
				default:
					cache.Load(key, func(r blobcache.Response) {
						if r.Result == blobcache.OperationError {
							atomic.AddInt64(&errored, 1)
						}
						done.Done()
					}, inlineDispatch)
				}
				done.Wait()
				atomic.AddInt64(&completed, 1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("====== Results ======")
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Completed: %s\n", humanize.Comma(completed))
	fmt.Printf("Errors: %s\n", humanize.Comma(errored))
	fmt.Printf("Ops/sec: %.2f\n", float64(completed)/elapsed.Seconds())
	fmt.Printf("Throughput: %s/sec\n", humanize.Bytes(uint64(float64(*payloadSize)*float64(completed)/elapsed.Seconds())))
}

func inlineDispatch(fn func()) { fn() }
