package main

import (
	"fmt"
	"os"

	"github.com/aplowman/hpcflow-new/internal/cli"
	"github.com/aplowman/hpcflow-new/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "hpcflow",
	Short:   "Generate and track batch-scheduler job arrays for declarative workflows",
	Version: version.Version,
}

func main() {
	// Optional .env in the invoking directory, e.g. for HPCFLOW_LOG_LEVEL.
	_ = godotenv.Load()

	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
