package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/shop-classifier/internal/model"
)

func TestServeRequested(t *testing.T) {
	assert.False(t, serveRequested(nil))
	assert.False(t, serveRequested([]string{"--verbose"}))
	assert.True(t, serveRequested([]string{"serve"}))
	assert.True(t, serveRequested([]string{"-x", "serve"}))
}

func TestEnterProjectRootLoadsEnvFromRoot(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	serverDir := filepath.Join(root, "cmd", "server")
	require.NoError(t, os.MkdirAll(serverDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("CLASSIFIER_ENV_CHECK=from-root\n"), 0o644))

	prev, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(prev) })

	t.Setenv("CLASSIFIER_ENV_CHECK", "")
	require.NoError(t, os.Unsetenv("CLASSIFIER_ENV_CHECK"))

	require.NoError(t, os.Chdir(serverDir))
	require.NoError(t, enterProjectRoot())

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, root, wd)
	assert.Equal(t, "from-root", os.Getenv("CLASSIFIER_ENV_CHECK"))
}

func TestReportBootError(t *testing.T) {
	gpuOnly := &model.LoadError{Kind: model.KindGPUOnly, Path: "m.onnx", Err: fmt.Errorf("cuda: %w", model.ErrGPUOnly)}

	var out bytes.Buffer
	msg := reportBootError(&out, gpuOnly)
	assert.Equal(t, 1, strings.Count(out.String(), "will not run in a CPU environment"))
	assert.NotContains(t, msg, "will not run in a CPU environment")

	out.Reset()
	msg = reportBootError(&out, errors.New("connection refused"))
	assert.Empty(t, out.String())
	assert.Contains(t, msg, "connection refused")
}
