// Package main provides the tsproject binary entry point.
// tsproject discovers TypeScript project configurations in a workspace and keeps the
// file graph of every project current as files change.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360studio/tsproject/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tsproject"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	root       string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Incremental TypeScript project file graphs",
		Long: `tsproject discovers project configuration files (tsproject.json,
.brackets-typescript) in a workspace and maintains, for every project:

- the source files selected by the configuration's glob patterns
- every file those sources reference or import, reference-counted
- the set of referenced files that could not be read

Graphs are updated incrementally as files are added, changed or deleted.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.root, "root", "", "Workspace root (default: git root or current directory)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(filesCmd(flags), ownerCmd(flags), watchCmd(flags), initCmd(flags))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup loads configuration, applies flag overrides and configures logging.
func (f *globalFlags) setup(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	// Flags win over every config layer, so log what loading does at the flag's level.
	bootLevel, err := config.ParseLevel(f.logLevel)
	if err != nil {
		return nil, nil, err
	}
	boot := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: bootLevel}))

	cfg, err := config.NewLoader(boot).Load(f.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if f.root != "" {
		cfg.Workspace.Root = f.root
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	// Configure logging
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Verify workspace root exists
	info, err := os.Stat(cfg.Workspace.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("not a directory: %s", cfg.Workspace.Root)
	}
	return cfg, logger, nil
}
