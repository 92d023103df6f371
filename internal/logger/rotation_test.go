package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter_CreatesDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "subdir", "toolgate.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "toolgate.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("dispatch ok\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "dispatch ok\n", string(content))
}

func TestRotatingWriter_Rotates(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
		suffix   string
	}{
		{"plain", false, ""},
		{"compressed", true, ".gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			logFile := filepath.Join(dir, "toolgate.log")

			rw, err := newRotatingWriter(logFile, 64, 0, tt.compress)
			require.NoError(t, err)
			defer rw.Close()

			first := strings.Repeat("a", 50) + "\n"
			second := strings.Repeat("b", 50) + "\n"
			_, err = rw.Write([]byte(first))
			require.NoError(t, err)
			_, err = rw.Write([]byte(second))
			require.NoError(t, err)

			content, err := os.ReadFile(logFile)
			require.NoError(t, err)
			assert.Equal(t, second, string(content))

			rotated, err := filepath.Glob(logFile + ".*" + tt.suffix)
			require.NoError(t, err)
			require.Len(t, rotated, 1)

			if tt.compress {
				f, err := os.Open(rotated[0])
				require.NoError(t, err)
				defer f.Close()
				gz, err := gzip.NewReader(f)
				require.NoError(t, err)
				body, err := io.ReadAll(gz)
				require.NoError(t, err)
				assert.Equal(t, first, string(body))
			}
		})
	}
}

func TestRotatingWriter_Close(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "toolgate.log"), 1, 0, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "toolgate.log")
	rw, err := newRotatingWriter(logFile, 0, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rw.Write([]byte("line\n"))
		}()
	}
	wg.Wait()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(string(content), "line\n"))
}

func TestRotatingWriter_RemovesExpired(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "toolgate.log")

	old := logFile + ".20200101-000000.000000"
	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	recent := logFile + ".20990101-000000.000000"
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0644))

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}
