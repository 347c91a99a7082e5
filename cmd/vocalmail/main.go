package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocalmail/vocalmail/agentservice"
)

var rootCmd = &cobra.Command{
	Use:   "vocalmail",
	Short: "Voice email agent",
}

func main() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice agent: conversation loop, mailbox sync, admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return agentservice.Run()
		},
	}
	rootCmd.AddCommand(serveCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one mailbox sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return agentservice.RunIngestOnce()
		},
	}
	rootCmd.AddCommand(ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
