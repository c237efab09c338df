// Package cmd defines and implements the CLI commands for the crawld
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "A resumable, concurrent web crawler",
		Long: `crawld crawls the web from a set of seed URLs, expanding sitemaps and
following links, while recording every URL's state in a durable frontier
store. A crawl interrupted at any point resumes exactly where it stopped,
and individual URLs or whole URL prefixes can be paused and resumed while
the crawl is running.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./crawld.yaml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
