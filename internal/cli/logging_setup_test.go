package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvettori/fingraph/internal/config"
)

func TestSetupLogging_FileErrorFallsBackToStderr(t *testing.T) {
	// A regular file where the log directory should be makes the file
	// sink unopenable.
	blocker := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	cfg := config.Default()
	cfg.Logging.File = filepath.Join(blocker, "fingraph.log")

	cmd := &cobra.Command{Use: "fingraph"}
	cmd.Flags().Bool("debug", false, "")
	var errBuf bytes.Buffer
	cmd.SetErr(&errBuf)
	cmd.SetContext(context.Background())

	result := setupLogging(cmd, cfg)
	defer result.Close()

	assert.False(t, result.UsingFile)
	assert.Contains(t, errBuf.String(), "logging to stderr only")

	// The fallback logger must still emit. A discarded log trail after a
	// sink failure would hide everything the warning promised to keep.
	logger.Info().Msg("fallback sink alive")
	assert.Contains(t, errBuf.String(), "fallback sink alive")
}
