package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shardpipe/internal/cluster"
	"shardpipe/internal/logger"
	"shardpipe/internal/pool"
	"shardpipe/internal/router"
	"shardpipe/internal/telemetry"
)

// rootCmd represents base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "shardpipe",
	Short: "Client-side router and pipeliner for sharded Redis-compatible clusters",
	Long: `Routes commands to the host owning their key, pipelines per host,
and coalesces adjacent GETs and SETs into MGET/MSET batches.

Host lists are comma separated, either plain addresses (ids assigned in
order) or id=addr pairs:

  shardpipe cli --hosts 127.0.0.1:6379,127.0.0.1:6380
  shardpipe cli --hosts 0=10.0.0.1:6379,1=10.0.0.2:6379`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds child commands to root and sets flags appropriately.
// Called by main.main(). Only needs to happen once to rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("hosts", "127.0.0.1:6379", "Comma-separated host list (addr or id=addr)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error, panic)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")

	rootCmd.PersistentFlags().Duration("dial-timeout", 5*time.Second, "Connection dial timeout")
	rootCmd.PersistentFlags().Duration("read-timeout", 5*time.Second, "Socket read timeout")
	rootCmd.PersistentFlags().Duration("write-timeout", 5*time.Second, "Socket write timeout")
	rootCmd.PersistentFlags().Int("max-idle", 8, "Idle connections kept per host")
	rootCmd.PersistentFlags().Bool("retry-on-timeout", false, "Retry inline commands after a timeout")
}

// buildCluster assembles the cluster from the persistent flags, and
// initializes logging and the optional metrics endpoint on the way.
func buildCluster(cmd *cobra.Command) (*cluster.Cluster, error) {
	logger.Init(logger.LogLevel(getStringFlag(cmd, "log-level", "info")))

	if addr := getStringFlag(cmd, "metrics-addr", ""); addr != "" {
		telemetry.ServeMetrics(addr)
	}

	hosts, err := parseHosts(getStringFlag(cmd, "hosts", ""))
	if err != nil {
		return nil, err
	}

	return cluster.New(hosts, cluster.WithPoolOptions(
		pool.WithDialTimeout(getDurationFlag(cmd, "dial-timeout", 5*time.Second)),
		pool.WithReadTimeout(getDurationFlag(cmd, "read-timeout", 5*time.Second)),
		pool.WithWriteTimeout(getDurationFlag(cmd, "write-timeout", 5*time.Second)),
		pool.WithMaxIdle(getIntFlag(cmd, "max-idle", 8)),
		pool.WithRetryOnTimeout(getBoolFlag(cmd, "retry-on-timeout")),
	))
}

// parseHosts accepts "addr,addr" or "id=addr,id=addr".
func parseHosts(spec string) ([]cluster.HostSpec, error) {
	if spec == "" {
		return nil, fmt.Errorf("no hosts given")
	}
	parts := strings.Split(spec, ",")
	hosts := make([]cluster.HostSpec, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, addr, ok := strings.Cut(part, "="); ok {
			n, err := strconv.Atoi(id)
			if err != nil {
				return nil, fmt.Errorf("invalid host id %q: %w", id, err)
			}
			hosts = append(hosts, cluster.HostSpec{ID: router.HostID(n), Addr: addr})
			continue
		}
		hosts = append(hosts, cluster.HostSpec{ID: router.HostID(i), Addr: part})
	}
	return hosts, nil
}

// Helper functions for flag parsing
func getStringFlag(cmd *cobra.Command, name, defaultValue string) string {
	if value, err := cmd.Flags().GetString(name); err == nil && value != "" {
		return value
	}
	return defaultValue
}

func getBoolFlag(cmd *cobra.Command, name string) bool {
	if value, err := cmd.Flags().GetBool(name); err == nil {
		return value
	}
	return false
}

func getIntFlag(cmd *cobra.Command, name string, defaultValue int) int {
	if value, err := cmd.Flags().GetInt(name); err == nil {
		return value
	}
	return defaultValue
}

func getDurationFlag(cmd *cobra.Command, name string, defaultValue time.Duration) time.Duration {
	if value, err := cmd.Flags().GetDuration(name); err == nil && value != 0 {
		return value
	}
	return defaultValue
}
