// Package benchmark measures cluster throughput through the routing
// layer, either one command at a time or through pipelined mapping
// sessions.
package benchmark

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shardpipe/internal/client"
	"shardpipe/internal/cluster"
)

// Config holds the knobs of one benchmark run.
type Config struct {
	Requests    int
	Concurrency int
	Pipeline    int // commands per flush; 1 means inline execution
	AutoBatch   bool
	Commands    []string
	DataSize    int
	KeySpace    int
	RandomData  bool
	Quiet       bool
	CSV         bool
	LatencyHist bool
}

// Result aggregates one command's run.
type Result struct {
	Command    string
	Requests   int64
	Errors     int64
	Duration   time.Duration
	Throughput float64
	Latencies  []time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
}

// Run benchmarks every configured command against the cluster.
func Run(c *cluster.Cluster, cfg *Config) []Result {
	var results []Result
	for _, command := range cfg.Commands {
		name := strings.ToUpper(command)
		if !cfg.Quiet {
			fmt.Printf("Testing %s...\n", name)
		}
		results = append(results, runCommand(c, cfg, name))
	}
	return results
}

func runCommand(c *cluster.Cluster, cfg *Config, command string) Result {
	result := Result{
		Command:  command,
		Requests: int64(cfg.Requests),
	}

	perWorker := cfg.Requests / cfg.Concurrency
	remainder := cfg.Requests % cfg.Concurrency

	var mu sync.Mutex
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < cfg.Concurrency; i++ {
		reqs := perWorker
		if i < remainder {
			reqs++
		}
		wg.Add(1)
		go func(workerID, reqs int) {
			defer wg.Done()
			w := worker{cfg: cfg, rc: c.RoutingClient(cfg.AutoBatch), id: workerID}
			latencies := w.run(command, reqs, &result.Errors)
			mu.Lock()
			result.Latencies = append(result.Latencies, latencies...)
			mu.Unlock()
		}(i, reqs)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	result.Throughput = float64(result.Requests) / result.Duration.Seconds()

	if len(result.Latencies) > 0 {
		sort.Slice(result.Latencies, func(i, j int) bool {
			return result.Latencies[i] < result.Latencies[j]
		})
		result.P50Latency = result.Latencies[len(result.Latencies)*50/100]
		result.P95Latency = result.Latencies[len(result.Latencies)*95/100]
		result.P99Latency = result.Latencies[len(result.Latencies)*99/100]
	}
	return result
}

// worker owns one goroutine's traffic.  Mapping clients are
// single-owner, so each worker builds its own.
type worker struct {
	cfg *Config
	rc  *client.RoutingClient
	id  int
	rnd *rand.Rand
}

func (w *worker) run(command string, requests int, errors *int64) []time.Duration {
	w.rnd = rand.New(rand.NewSource(int64(w.id) + 1))
	if w.cfg.Pipeline > 1 {
		return w.runPipelined(command, requests, errors)
	}
	return w.runInline(command, requests, errors)
}

func (w *worker) runInline(command string, requests int, errors *int64) []time.Duration {
	latencies := make([]time.Duration, 0, requests)
	for i := 0; i < requests; i++ {
		name, args := w.buildCommand(command, i)
		start := time.Now()
		if _, err := w.rc.Execute(name, args...); err != nil {
			atomic.AddInt64(errors, 1)
			continue
		}
		latencies = append(latencies, time.Since(start))
	}
	return latencies
}

// runPipelined batches Pipeline commands into one mapping session per
// flush.  The session latency is split evenly over its commands, same
// as redis-benchmark reports pipelined runs.
func (w *worker) runPipelined(command string, requests int, errors *int64) []time.Duration {
	latencies := make([]time.Duration, 0, requests)
	for i := 0; i < requests; i += w.cfg.Pipeline {
		batch := w.cfg.Pipeline
		if i+batch > requests {
			batch = requests - i
		}

		start := time.Now()
		failed := 0
		err := w.rc.Map().Run(func(m *client.MappingClient) error {
			for j := 0; j < batch; j++ {
				name, args := w.buildCommand(command, i+j)
				p, err := m.Execute(name, args...)
				if err != nil {
					return err
				}
				p.OnFailure(func(error) { failed++ })
			}
			return nil
		})
		if err != nil {
			atomic.AddInt64(errors, int64(batch))
			continue
		}
		atomic.AddInt64(errors, int64(failed))

		per := time.Since(start) / time.Duration(batch)
		for j := 0; j < batch; j++ {
			latencies = append(latencies, per)
		}
	}
	return latencies
}

func (w *worker) buildCommand(command string, requestID int) (string, []string) {
	key := func(prefix string) string {
		return fmt.Sprintf("%s:%d", prefix, requestID%w.cfg.KeySpace)
	}
	switch command {
	case "SET":
		return "SET", []string{key("key"), w.value()}
	case "GET":
		return "GET", []string{key("key")}
	case "INCR":
		return "INCR", []string{key("counter")}
	case "LPUSH":
		return "LPUSH", []string{key("list"), w.value()}
	case "RPUSH":
		return "RPUSH", []string{key("list"), w.value()}
	case "SADD":
		return "SADD", []string{key("set"), w.value()}
	case "HSET":
		field := "field:" + strconv.Itoa(requestID%1000)
		return "HSET", []string{key("hash"), field, w.value()}
	case "ZADD":
		score := strconv.Itoa(requestID % 1000)
		return "ZADD", []string{key("zset"), score, w.value()}
	default:
		// Unknown names degrade to a keyed GET so routing still works.
		return "GET", []string{key("key")}
	}
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (w *worker) value() string {
	if !w.cfg.RandomData {
		return strings.Repeat("x", w.cfg.DataSize)
	}
	b := make([]byte, w.cfg.DataSize)
	for i := range b {
		b[i] = charset[w.rnd.Intn(len(charset))]
	}
	return string(b)
}

// PrintResults renders the run, CSV or human-readable.
func PrintResults(results []Result, cfg *Config) {
	if cfg.CSV {
		printCSVResults(results)
		return
	}

	if !cfg.Quiet {
		fmt.Printf("\nBenchmark Results:\n")
		fmt.Printf("=================\n")
	}

	for _, result := range results {
		if cfg.Quiet {
			fmt.Printf("%s: %.2f requests per second, p50=%s\n",
				result.Command, result.Throughput, formatDuration(result.P50Latency))
			continue
		}
		fmt.Printf("%s: %.2f requests per second\n", result.Command, result.Throughput)
		fmt.Printf("  Duration: %s\n", formatDuration(result.Duration))
		fmt.Printf("  Requests: %d\n", result.Requests)
		fmt.Printf("  Errors: %d\n", result.Errors)
		fmt.Printf("  Latency percentiles:\n")
		fmt.Printf("    p50: %s\n", formatDuration(result.P50Latency))
		fmt.Printf("    p95: %s\n", formatDuration(result.P95Latency))
		fmt.Printf("    p99: %s\n", formatDuration(result.P99Latency))
		if cfg.LatencyHist && len(result.Latencies) > 0 {
			printLatencyHistogram(result.Latencies)
		}
		fmt.Printf("\n")
	}

	if !cfg.Quiet {
		printSummary(results)
	}
}

func printCSVResults(results []Result) {
	fmt.Printf("Command,Requests,Errors,Duration,Throughput,P50,P95,P99\n")
	for _, result := range results {
		fmt.Printf("%s,%d,%d,%s,%.2f,%s,%s,%s\n",
			result.Command,
			result.Requests,
			result.Errors,
			formatDuration(result.Duration),
			result.Throughput,
			formatDuration(result.P50Latency),
			formatDuration(result.P95Latency),
			formatDuration(result.P99Latency))
	}
}

func printLatencyHistogram(latencies []time.Duration) {
	buckets := []time.Duration{
		1 * time.Microsecond,
		10 * time.Microsecond,
		100 * time.Microsecond,
		1 * time.Millisecond,
		10 * time.Millisecond,
		100 * time.Millisecond,
		1 * time.Second,
	}

	fmt.Printf("  Latency histogram:\n")
	for _, bucket := range buckets {
		count := 0
		for _, latency := range latencies {
			if latency <= bucket {
				count++
			}
		}
		percentage := float64(count) / float64(len(latencies)) * 100
		fmt.Printf("    <=%s: %.1f%%\n", formatDuration(bucket), percentage)
	}
}

func printSummary(results []Result) {
	if len(results) == 0 {
		return
	}

	var totalRequests, totalErrors int64
	var totalThroughput float64
	for _, result := range results {
		totalRequests += result.Requests
		totalErrors += result.Errors
		totalThroughput += result.Throughput
	}

	fmt.Printf("Summary:\n")
	fmt.Printf("  Total requests: %d\n", totalRequests)
	fmt.Printf("  Total errors: %d\n", totalErrors)
	fmt.Printf("  Error rate: %.2f%%\n", float64(totalErrors)/float64(totalRequests)*100)
	fmt.Printf("  Average throughput: %.2f requests/second\n", totalThroughput/float64(len(results)))
}

func formatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%.3f ns", float64(d.Nanoseconds()))
	} else if d < time.Millisecond {
		return fmt.Sprintf("%.3f µs", float64(d.Microseconds()))
	} else if d < time.Second {
		return fmt.Sprintf("%.3f ms", float64(d.Milliseconds()))
	}
	return fmt.Sprintf("%.3f s", d.Seconds())
}
