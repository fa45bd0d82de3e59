// Package cmd implements the annod command-line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nordtext/annod/internal/observability"
)

var (
	cfgFile  string
	logLevel string
	devMode  bool
)

// versionInfo is populated from build flags via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build metadata shown by the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "annod",
	Short: "Corpus annotation job coordinator",
	Long: `annod coordinates corpus annotation jobs: it syncs corpora between a
storage backend and the annotation host, launches detached annotation runs
there, tracks their progress and brings the results back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Development mode logging")
}

// initLogging builds the process logger from config plus flag overrides.
func initLogging(level string, development bool) error {
	if logLevel != "" {
		level = logLevel
	}
	if devMode {
		development = true
	}
	return observability.Init(level, development)
}

// Execute runs the CLI.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}
