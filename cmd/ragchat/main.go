package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "ragchat",
		Short: "Streaming retrieval-augmented chat service",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the chat HTTP server",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ragchat", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "Enable development logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
