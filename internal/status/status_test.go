package status

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAppendsTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studip-status.txt")
	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.Event("session open"))
	require.NoError(t, r.Event("resolver root ready"))
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "session open"))
	assert.True(t, strings.HasSuffix(lines[1], "resolver root ready"))
	assert.Contains(t, lines[0], "T")
	assert.Contains(t, lines[0], "Z")

	fields := strings.SplitN(lines[0], " ", 3)
	require.Len(t, fields, 3)
	assert.Equal(t, LevelInfo, fields[1])
	assert.Equal(t, "session open", fields[2])
}

func TestEventAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studip-status.txt")
	r1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r1.Event("session open"))
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r2.Event("shutdown"))
	require.NoError(t, r2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], "shutdown"))
}
