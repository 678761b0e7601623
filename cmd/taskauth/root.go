package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-taskauth"
)

var version = "dev"

type rootOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "taskauth",
		Short: "Authentication server and session client for the task manager",
		Long: `taskauth runs the authentication API of the task manager and ships a
small client that keeps a local session in sync with it.

Example usage:
  taskauth serve                          # start the API server
  taskauth session login -e me@tasks.io   # sign in and store the session
  taskauth session status                 # show the stored session`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./taskauth.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSessionCmd(opts))

	return cmd
}

func newSlogLogger(w io.Writer, level, format string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func newLogger(level, format string, verbose bool) auth.Logger {
	return auth.NewSlogLogger(newSlogLogger(os.Stderr, level, format, verbose))
}
