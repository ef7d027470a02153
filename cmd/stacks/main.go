package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "stacks",
		Short:   "Stacks — AI-powered reading discovery engine",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newCacheCmd(),
		newAnalyticsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
