package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "up", opts.cmd)
	assert.False(t, opts.force)

	_, err = parseFlags([]string{"-nope"}, io.Discard)
	assert.Error(t, err)
}

func TestDestructive(t *testing.T) {
	for _, cmd := range []string{"down", "redo", "version"} {
		assert.True(t, destructive(cmd), cmd)
	}
	for _, cmd := range []string{"up", "status", "create", "validate"} {
		assert.False(t, destructive(cmd), cmd)
	}
}

func TestRunRejectsBadInputBeforeConnecting(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, run(ctx, options{cmd: "sideways"}), "unknown -cmd")
	assert.ErrorContains(t, run(ctx, options{cmd: "create"}), "missing -name")
	assert.ErrorContains(t, run(ctx, options{cmd: "version"}), "missing -version")
}

func TestRunCreateAndValidate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, run(ctx, options{cmd: "create", dir: dir, name: "add refund index"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".sql", filepath.Ext(entries[0].Name()))

	assert.NoError(t, run(ctx, options{cmd: "validate", dir: dir}))
}
