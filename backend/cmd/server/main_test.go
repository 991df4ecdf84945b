package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlushesLogFileWhenLedgerFails(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	})
	logFile := filepath.Join(t.TempDir(), "papertrade.log")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://user@localhost:notaport/db")
	t.Setenv("LOG_FILE", logFile)

	require.Equal(t, 1, run())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FATAL: ledger unavailable")
}

func TestRunFailsOnMissingConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	assert.Equal(t, 1, run())
}
