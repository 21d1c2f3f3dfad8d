package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFile_RotateReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walletd.log")

	l, err := openLogFile(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Write([]byte("first\n"))
	require.NoError(t, err)

	rotated := filepath.Join(dir, "walletd.log.1")
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, l.Rotate())

	_, err = l.Write([]byte("second\n"))
	require.NoError(t, err)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(old))

	fresh, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(fresh))
}

func TestLogFile_OpenFailure(t *testing.T) {
	_, err := openLogFile(filepath.Join(t.TempDir(), "missing", "walletd.log"))
	assert.Error(t, err)
}
