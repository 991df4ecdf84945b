package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewestFirst(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(r, "line %d\n", i)
	}

	got := r.Query(10, LevelInfo, "")
	require.Len(t, got, 3)
	assert.Equal(t, "line 5", got[0].Message)
	assert.Equal(t, "line 3", got[2].Message)
	assert.Equal(t, uint64(5), got[0].Seq)
}

func TestRingFiltersByLevelAndText(t *testing.T) {
	r := NewRing(10)
	fmt.Fprintln(r, "order placed for AAPL")
	fmt.Fprintln(r, "WARN: quote stale for TSLA")
	fmt.Fprintln(r, "ERROR: ledger transaction failed for AAPL")

	warnUp := r.Query(10, LevelWarn, "")
	require.Len(t, warnUp, 2)
	assert.Equal(t, "ERROR", warnUp[0].Level)
	assert.Equal(t, "WARN", warnUp[1].Level)

	aapl := r.Query(10, LevelInfo, "aapl")
	require.Len(t, aapl, 2)

	limited := r.Query(1, LevelInfo, "")
	require.Len(t, limited, 1)
	assert.Contains(t, limited[0].Message, "ledger transaction failed")
}

func TestRingSplitsMultilineWrites(t *testing.T) {
	r := NewRing(10)
	_, err := r.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	assert.Len(t, r.Query(10, LevelInfo, ""), 2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestRotatorRollsOver(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")

	rot, err := NewRotator(name, 0, 2)
	require.NoError(t, err)
	rot.MaxSize = 10
	defer rot.Close()

	_, err = rot.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = rot.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = rot.Write([]byte("ghijklmnop"))
	require.NoError(t, err)

	current, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "ghijklmnop", string(current))

	first, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(first))

	second, err := os.ReadFile(name + ".2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(second), "0123"))
}

func TestClassifyUsesMessagePrefix(t *testing.T) {
	cases := map[string]Level{
		"2024/03/01 12:00:00 engine.go:180: Filled market buy ERROR: none": LevelInfo,
		"2024/03/01 12:00:00 main.go:40: FATAL: configuration error":       LevelError,
		"2024/03/01 12:00:00 scheduler.go:74: WARN: previous pass running": LevelWarn,
		"12:00:00.123456 ERROR: ledger operation failed":                   LevelError,
		"user FATALITY123 signed up":                                       LevelInfo,
		"quote for TSLA mentions warn: in its name":                        LevelInfo,
	}
	for line, want := range cases {
		assert.Equal(t, want, classify(line), line)
	}
}
