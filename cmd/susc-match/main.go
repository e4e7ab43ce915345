// Package main provides the susc-match command-line tool.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/store"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	viper.Reset()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "Run 'susc-match --help' for usage.\n")
		}
	}
	return exitCode(err)
}

// usageError marks failures caused by how the tool was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ue), errors.Is(err, drdb.ErrUnknownVersion):
		return ExitUsage
	}
	return ExitError
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "susc-match",
		Short: "Match SARS-CoV-2 spike mutations against susceptibility data",
		Long: `susc-match classifies a query mutation set against every tested isolate
of a resistance database snapshot and summarizes the antibody, convalescent
plasma and vaccinee plasma results of the matching isolates.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q", args[0])
			}
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := root.PersistentFlags()
	pf.String("snapshot-dir", ".", "Directory holding covid-drdb-<version>.db snapshots")
	pf.Int("max-versions", store.DefaultMaxVersions, "Snapshot versions held in memory")
	pf.String("log-level", "warn", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console, json")
	pf.String("metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	for key, flag := range map[string]string{
		"snapshot_dir":       "snapshot-dir",
		"cache.max_versions": "max-versions",
		"log.level":          "log-level",
		"log.format":         "log-format",
		"metrics.textfile":   "metrics-textfile",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newQueryCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newVersionsCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// initConfig loads ~/.susc-match.yaml and SUSC_MATCH_* environment overrides.
func initConfig() error {
	viper.SetConfigName(".susc-match")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetEnvPrefix("SUSC_MATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("workers", 0)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// stringSetting prefers an explicitly set flag over the configured key.
func stringSetting(cmd *cobra.Command, flag, key string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	return viper.GetString(key)
}

// intSetting prefers an explicitly set flag over the configured key.
func intSetting(cmd *cobra.Command, flag, key string) int {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt(flag)
		return n
	}
	return viper.GetInt(key)
}
