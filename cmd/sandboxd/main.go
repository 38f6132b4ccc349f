// sandboxd is a stateful, specification-driven HTTP mock server: an
// OpenAPI document plus a scenarios file in, deterministic mock
// traffic out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "sandboxd",
	Short:         "Stateful specification-driven HTTP mock server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
