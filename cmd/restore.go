package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shardpipe/internal/restore"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore <dump.rdb>",
	Short: "Load an RDB dump into the cluster",
	Long: `Parse a Redis RDB dump file and replay its contents as write
commands.  Keys land on whichever host the router assigns them, so a
single-node dump spreads across the cluster.

Examples:
  shardpipe restore dump.rdb --hosts 10.0.0.1:6379,10.0.0.2:6379
  shardpipe restore dump.rdb --flush-every 500`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := buildCluster(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer c.DisconnectAll()

		loader := restore.NewLoader(
			c.RoutingClient(false),
			restore.WithFlushEvery(getIntFlag(cmd, "flush-every", 1000)),
		)
		sum, err := loader.LoadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Restored %s\n", sum)
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().Int("flush-every", 1000, "Commands in flight before draining the session")
}
