// Package main is the entry point for the Argus SOC dashboard backend.
package main

import (
	"context"
	"fmt"
	"os"

	"argus/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
