package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

func newRootCommand() *cobra.Command {
	var serverFlag, keyFlag string
	var jsonFlag bool

	ctx := newCommandContext(&serverFlag, &keyFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "pubctl",
		Short:         "Submit and watch publish jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", envOr("PUBLISHQ_URL", defaultServer), "publishq server URL")
	rootCmd.PersistentFlags().StringVar(&keyFlag, "api-key", os.Getenv("PUBLISHQ_API_KEY"), "API key (defaults to $PUBLISHQ_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newRetryCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newQuotaCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
