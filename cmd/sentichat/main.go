package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "dev"

var configFile string

func newRootCmd(logger *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "sentichat",
		Short: "SentiChat - conversational access to country sentiment data",
		Long: `SentiChat answers questions about country-level sentiment indices.

Commands:
  serve    Run the HTTP API, metrics and health endpoints
  chat     Talk to the pipeline from the terminal
  report   Download the usage report from a running server

Config is read from --config (YAML), .env and the environment.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "YAML configuration file")

	root.AddCommand(newServeCmd(logger))
	root.AddCommand(newChatCmd(logger))
	root.AddCommand(newReportCmd())
	return root
}

func main() {
	logger := logrus.New()
	if err := newRootCmd(logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
