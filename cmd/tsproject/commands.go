package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/c360studio/tsproject/config"
	"github.com/c360studio/tsproject/project"
)

var (
	projectColor   = color.New(color.FgCyan, color.Bold)
	sourceColor    = color.New(color.FgGreen)
	referenceColor = color.New(color.FgYellow)
	missingColor   = color.New(color.FgRed)
)

// startTimeout bounds project discovery for one-shot commands.
const startTimeout = 2 * time.Minute

func filesCmd(flags *globalFlags) *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the files of every project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				if only != "" {
					abs, err := filepath.Abs(only)
					if err != nil {
						return err
					}
					only = filepath.ToSlash(abs)
				}
				return printFiles(ctx, cmd.OutOrStdout(), app.registry, only)
			})
		},
	}
	cmd.Flags().StringVarP(&only, "project", "p", "", "Only list the project with this config file")
	return cmd
}

func ownerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "owner <path>",
		Short: "Print the config file of the project owning a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			target = filepath.ToSlash(target)
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				g, ok := app.registry.ResolveOwner(ctx, target)
				if !ok {
					return fmt.Errorf("no project owns %s", target)
				}
				kind, err := g.FileKind(ctx, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", g.Name(), kind)
				return nil
			})
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep project graphs current until interrupted",
		Long: `Watch discovers every project, then follows filesystem changes and, when nats.url
is configured, editor messages published on the bridge subjects. Prometheus metrics
are served on metrics.addr when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			app, err := NewApp(cfg, logger, true)
			if err != nil {
				return err
			}

			// Setup signal handling
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				_ = app.Shutdown()
				return err
			}
			logger.Info("tsproject ready", "version", Version, "root", cfg.Workspace.Root)

			runErr := app.Run(ctx)
			if err := app.Shutdown(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func initCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default user config file if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := config.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			loader := config.NewLoader(logger)
			if err := loader.EnsureUserConfig(); err != nil {
				return fmt.Errorf("write user config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), loader.UserConfigPath())
			return nil
		},
	}
}

// withApp runs fn against a started one-shot app and shuts it down afterwards.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *App) error) error {
	cfg, logger, err := flags.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = app.Shutdown() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}

// printFiles writes every project with its files, their kind and its missing files.
func printFiles(ctx context.Context, w io.Writer, registry *project.Registry, only string) error {
	graphs, err := registry.Graphs(ctx)
	if err != nil {
		return err
	}
	diagnostics, err := registry.Diagnostics(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(graphs))
	for name := range graphs {
		if only == "" || name == only {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if only != "" && len(names) == 0 {
		if diag, ok := diagnostics[only]; ok {
			return diag
		}
		return fmt.Errorf("no project for %s", only)
	}

	for _, name := range names {
		g := graphs[name]
		files, err := g.Files(ctx)
		if err != nil {
			return err
		}
		missing, err := g.MissingFiles(ctx)
		if err != nil {
			return err
		}

		projectColor.Fprintf(w, "%s\n", name)
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			kind, err := g.FileKind(ctx, p)
			if err != nil {
				return err
			}
			c := referenceColor
			if kind == project.FileKindSource {
				c = sourceColor
			}
			c.Fprintf(w, "  %-9s %s\n", kind, p)
		}
		for _, p := range missing {
			missingColor.Fprintf(w, "  %-9s %s\n", "MISSING", p)
		}
	}

	if only == "" {
		invalid := make([]string, 0, len(diagnostics))
		for p := range diagnostics {
			invalid = append(invalid, p)
		}
		sort.Strings(invalid)
		for _, p := range invalid {
			missingColor.Fprintf(w, "%s\n  INVALID   %v\n", p, diagnostics[p])
		}
	}
	return nil
}
