package build

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupLogging(t *testing.T) {
	var console bytes.Buffer
	dir := t.TempDir()

	l, err := SetupLogging(LogConfig{
		Level:   "debug",
		Console: &console,
		File:    &RotatorConfig{Dir: dir, MaxFiles: 2},
	})
	require.NoError(t, err)

	log := l.Logger(SubsystemScan).With("account_id", 7)
	log.Debug("Scan cycle finished", "matched", 1)
	log.With("cycle_id", "abc").Info("second line")

	require.NoError(t, l.Close())

	require.Contains(t, console.String(), "SCAN")
	require.Contains(t, console.String(), "Scan cycle finished")
	require.Contains(t, console.String(), "account_id=7")

	file, err := os.ReadFile(filepath.Join(dir, DefaultLogFilename))
	require.NoError(t, err)
	require.Contains(t, string(file), "second line")
}

func TestSetupLoggingLevel(t *testing.T) {
	var console bytes.Buffer

	l, err := SetupLogging(LogConfig{Level: "warn", Console: &console})
	require.NoError(t, err)

	log := l.Logger(SubsystemHTTP)
	log.Info("hidden")
	log.Warn("shown")

	require.NotContains(t, console.String(), "hidden")
	require.Contains(t, console.String(), "shown")

	_, err = SetupLogging(LogConfig{Level: "chatty"})
	require.Error(t, err)
}
