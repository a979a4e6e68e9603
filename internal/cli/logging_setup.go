package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mvettori/fingraph/internal/config"
	"github.com/mvettori/fingraph/internal/logging"
)

// setupLogging configures logging from the config file and CLI flags.
// The --debug flag forces debug-level console output and disables the
// file sink.
func setupLogging(cmd *cobra.Command, cfg *config.Config) logging.Result {
	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		logCfg.Level = "debug"
		logCfg.Format = logging.FormatConsole
		logCfg.File = ""
	}

	result, err := logging.New(logCfg)
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v, logging to stderr only\n", err)
		// The zero Result from a failed New has no writer; stderr keeps
		// the promised log trail alive.
		result.Logger = zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
	}
	logger = logging.Component(result.Logger, "cli")

	ctx := logger.WithContext(cmd.Context())
	cmd.SetContext(ctx)

	logger.Debug().Str("command", cmd.Name()).Msg("command started")
	return result
}
