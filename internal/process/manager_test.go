package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDThenReadPID_RoundTrips(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())
}

func TestReadPID_ReturnsZeroWhenFileMissing(t *testing.T) {
	m := NewManager(t.TempDir())
	assert.Equal(t, 0, m.ReadPID())
}

func TestIsRunning_TrueForOwnProcess(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.WritePID())

	assert.True(t, m.IsRunning())
}

func TestIsRunning_FalseAndCleansUpStalePID(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.WritePID())

	// A PID that is exceedingly unlikely to be alive on any system.
	require.NoError(t, os.WriteFile(m.pidFile, []byte("999999"), 0600))

	assert.False(t, m.IsRunning())
	assert.Equal(t, 0, m.ReadPID())
}

func TestCleanupPID_RemovesFileAndIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.WritePID())

	m.CleanupPID()
	assert.Equal(t, 0, m.ReadPID())

	m.CleanupPID() // should not panic or error when file is already gone
}
