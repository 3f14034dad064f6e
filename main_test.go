package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunReturnsExitCodeInsteadOfExiting(t *testing.T) {
	assert.Equal(t, 1, run(filepath.Join(t.TempDir(), "missing.yaml")))

	path := writeConfig(t, `
zapConfig:
  level: "info"
  encoding: "console"
moderation:
  auto_block_threshold: 0.95
`)
	assert.Equal(t, 1, run(path), "阈值倒置时启动失败并返回退出码")

	path = writeConfig(t, `
zapConfig:
  level: "info"
  encoding: "console"
kafka:
  brokers: []
`)
	assert.Equal(t, 1, run(path), "无法创建生产者时返回退出码")
}
