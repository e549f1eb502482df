package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nexuswatch/internal/config"
)

var (
	flagConfig string
	conf       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "nexuswatch",
	Short: "Community watch incident service",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
