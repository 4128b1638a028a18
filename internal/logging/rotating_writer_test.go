package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWriterAppends(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(logFile, []byte("old\n"), 0600))

	w, err := NewRotatingFileWriter(logFile, 1024, 3)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(content))
}

func TestRotatingFileWriterRotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	w, err := NewRotatingFileWriter(logFile, 50, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, ch := range []string{"A", "B", "C", "D"} {
		_, err := w.Write([]byte(strings.Repeat(ch, 30) + "\n"))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(current), "D"))

	newest, err := os.ReadFile(filepath.Join(dir, "test.1.log"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(newest), "C"))

	oldest, err := os.ReadFile(filepath.Join(dir, "test.2.log"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(oldest), "B"))

	_, err = os.Stat(filepath.Join(dir, "test.3.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFileWriterClosed(t *testing.T) {
	w, err := NewRotatingFileWriter(filepath.Join(t.TempDir(), "test.log"), 0, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
