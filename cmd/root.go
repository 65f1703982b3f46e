// Package cmd wires the Cobra CLI for the pagemd service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagemd",
		Short: "Render web pages in a real browser and serve them as markdown.",
		Long: `pagemd renders live web pages in headless Chrome and converts their
content into clean markdown suitable for LLM consumption, with caching,
per-client throttling, bounded subpage crawling, and optional generative
cleanup.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
