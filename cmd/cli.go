package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shardpipe/internal/cli"
)

// cliCmd represents the CLI command
var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Interactive cluster command-line interface",
	Long: `Interactive command-line interface similar to redis-cli, but
cluster-aware: keyed commands route to the host owning their key, and
--fanout broadcasts each command to every host.

Examples:
  shardpipe cli --hosts 127.0.0.1:6379,127.0.0.1:6380
  shardpipe cli --eval "SET key value"
  shardpipe cli --fanout --eval "INFO"
  shardpipe cli --file commands.txt`,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := buildCluster(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer c.DisconnectAll()

		err = cli.Run(c, &cli.Config{
			Timeout: getDurationFlag(cmd, "timeout", 5*time.Second),
			Raw:     getBoolFlag(cmd, "raw"),
			Fanout:  getBoolFlag(cmd, "fanout"),
			Eval:    getStringFlag(cmd, "eval", ""),
			File:    getStringFlag(cmd, "file", ""),
			Pipe:    getBoolFlag(cmd, "pipe"),
		}, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(cliCmd)

	cliCmd.Flags().Duration("timeout", 5*time.Second, "Command timeout")
	cliCmd.Flags().Bool("fanout", false, "Send every command to all hosts")
	cliCmd.Flags().Bool("raw", false, "Use raw formatting for replies")
	cliCmd.Flags().String("eval", "", "Send specified command")
	cliCmd.Flags().String("file", "", "Execute commands from file")
	cliCmd.Flags().Bool("pipe", false, "Pipe mode - read from stdin and write to stdout")
}
