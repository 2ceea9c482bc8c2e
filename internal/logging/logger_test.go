package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLevel(t *testing.T) {
	log, closeFn, err := New(Options{})
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNew_Verbose(t *testing.T) {
	log, closeFn, err := New(Options{Verbose: true})
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "retrack.log")
	log, closeFn, err := New(Options{LogFile: path})
	require.NoError(t, err)

	log.Info("hello sink")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello sink"))
}
