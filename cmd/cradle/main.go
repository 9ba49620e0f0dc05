package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cradle",
	Short: "Cradle - single-use challenge container manager",
	Long: `Cradle provisions, tracks and reclaims single-use challenge
containers for CTF events. Players get at most one instance per
challenge; instances expire and are reaped automatically.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cradle version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://localhost:4000", "Cradle server address")
	rootCmd.PersistentFlags().String("admin-token", "", "Admin token (or CRADLE_ADMIN_TOKEN)")
}

// adminClientFlags resolves the server address and admin token for the
// client-side subcommands
func adminClientFlags(cmd *cobra.Command) (string, string) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("admin-token")
	if token == "" {
		token = os.Getenv("CRADLE_ADMIN_TOKEN")
	}
	return server, token
}
