// Command ringbus is the operator-facing tool for running replication
// bridges against a channel and exercising it with synthetic traffic,
// grounded on the teacher's cobra-based director CLI.
package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
