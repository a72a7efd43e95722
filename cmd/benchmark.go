package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shardpipe/internal/benchmark"
)

// benchmarkCmd represents the benchmark command
var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run cluster benchmark tests",
	Long: `Run benchmark tests through the routing layer, similar to
redis-benchmark but cluster-aware: keys spread over the hosts and
--pipeline batches commands through mapping sessions.

Examples:
  shardpipe benchmark --requests 10000 --concurrency 10
  shardpipe benchmark --commands SET,GET,INCR --requests 5000
  shardpipe benchmark --pipeline 10 --auto-batch --requests 10000
  shardpipe benchmark --latency-hist --requests 1000`,
	Run: runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	benchmarkCmd.Flags().Int("requests", 10000, "Total number of requests")
	benchmarkCmd.Flags().IntP("concurrency", "c", 50, "Number of parallel workers")
	benchmarkCmd.Flags().IntP("pipeline", "P", 1, "Commands per mapping session flush")
	benchmarkCmd.Flags().Bool("auto-batch", false, "Coalesce adjacent GETs/SETs into MGET/MSET")

	benchmarkCmd.Flags().String("commands", "SET,GET,INCR,LPUSH,RPUSH,SADD,HSET,ZADD", "Comma-separated list of commands to test")
	benchmarkCmd.Flags().Int("data-size", 2, "Data size of values in bytes")
	benchmarkCmd.Flags().Int("keyspace", 1000000, "Keyspace size for key generation")
	benchmarkCmd.Flags().Bool("random-data", false, "Use random data for values")

	benchmarkCmd.Flags().BoolP("quiet", "q", false, "Quiet mode (only show summary)")
	benchmarkCmd.Flags().Bool("csv", false, "Output in CSV format")
	benchmarkCmd.Flags().Bool("latency-hist", false, "Show latency histogram")
}

func runBenchmark(cmd *cobra.Command, _ []string) {
	c, err := buildCluster(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.DisconnectAll()

	config := &benchmark.Config{
		Requests:    getIntFlag(cmd, "requests", 10000),
		Concurrency: getIntFlag(cmd, "concurrency", 50),
		Pipeline:    getIntFlag(cmd, "pipeline", 1),
		AutoBatch:   getBoolFlag(cmd, "auto-batch"),
		Commands:    strings.Split(getStringFlag(cmd, "commands", "SET,GET,INCR"), ","),
		DataSize:    getIntFlag(cmd, "data-size", 2),
		KeySpace:    getIntFlag(cmd, "keyspace", 1000000),
		RandomData:  getBoolFlag(cmd, "random-data"),
		Quiet:       getBoolFlag(cmd, "quiet"),
		CSV:         getBoolFlag(cmd, "csv"),
		LatencyHist: getBoolFlag(cmd, "latency-hist"),
	}

	for i, name := range config.Commands {
		config.Commands[i] = strings.TrimSpace(name)
	}

	if !config.Quiet {
		fmt.Printf("Cluster Benchmark Tool\n")
		fmt.Printf("======================\n")
		fmt.Printf("Hosts: %d\n", len(c.Hosts()))
		fmt.Printf("Requests: %d\n", config.Requests)
		fmt.Printf("Concurrency: %d\n", config.Concurrency)
		fmt.Printf("Pipeline: %d\n", config.Pipeline)
		fmt.Printf("Commands: %s\n", strings.Join(config.Commands, ", "))
		fmt.Printf("Data size: %d bytes\n", config.DataSize)
		fmt.Printf("Keyspace: %d\n", config.KeySpace)
		fmt.Printf("\n")
	}

	results := benchmark.Run(c, config)
	benchmark.PrintResults(results, config)
}
