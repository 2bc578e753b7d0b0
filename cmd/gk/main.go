package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeep/internal/client"
	"github.com/alfredjeanlab/gatekeep/internal/ui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	httpURL    string
	authToken  string
	jsonOutput bool
	noColor    bool

	gatesClient client.GatesClient
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:           "gk <command>",
	Short:         "Adaptive gate discovery for event venues",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		gatesClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if gatesClient != nil {
			gatesClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOrDefault("GATEKEEP_HTTP_URL", "http://localhost:8080"), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("GATEKEEP_AUTH_TOKEN"), "bearer token for the admin API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "gates", Title: "Gates:"},
		&cobra.Group{ID: "jobs", Title: "Jobs:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Gates
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(bindingsCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(historyCmd)

	// Jobs
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(applyCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
