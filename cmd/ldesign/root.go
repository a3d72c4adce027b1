package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	verbose bool
	logJSON bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "ldesign",
		Short:        "Plan component library builds",
		Long:         "ldesign resolves a library build configuration into a bundler plan for\nthe framework the library targets.",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		setupLogging(cmd.ErrOrStderr(), opts)
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")

	cmd.AddCommand(newPlanCmd(), newDetectCmd(), newServeCmd(), newVersionCmd())
	return cmd
}

func setupLogging(w io.Writer, opts *rootOptions) {
	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if opts.logJSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}
