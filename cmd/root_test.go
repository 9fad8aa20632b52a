package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/observability"
	"github.com/irun2themoney/autoppia-miner/internal/service"
)

// writeTestConfig writes an offline configuration and returns its path and
// the state directory it points at.
func writeTestConfig(t *testing.T) (path, stateDir string) {
	t.Helper()
	dir := t.TempDir()
	stateDir = filepath.Join(dir, "state")
	path = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
logger:
  level: error
agent:
  type: template
live:
  enabled: false
persistence:
  dir: %s
`, stateDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("AGENT_TYPE", "")
	t.Setenv("DATABASE_URL", "")
	t.Cleanup(observability.ResetForTest)
	return path, stateDir
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(service.NewComponentFactory())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := execute(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "autoppia-miner version "+Version)
}

func TestVersionCmd(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out, err := execute(t, context.Background(), "version", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestSolveCmd(t *testing.T) {
	cfgPath, stateDir := writeTestConfig(t)

	out, err := execute(t, context.Background(), "solve", "--config", cfgPath,
		"--prompt", "Login with username:alice and password:secret123",
		"--url", "http://localhost:8001/login",
		"--id", "t-1")
	require.NoError(t, err)

	var resp schemas.SolveResponse
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "t-1", resp.ID)
	assert.True(t, resp.Success)
	assert.Equal(t, "template", resp.Recording)
	assert.Equal(t, "login", resp.TaskType)
	assert.Equal(t, "autoppia-miner", resp.WebAgentID)
	require.NotEmpty(t, resp.Actions)
	assert.Equal(t, schemas.ActionNavigate, resp.Actions[0].Type)
	assert.FileExists(t, filepath.Join(stateDir, "patterns.json"))
}

func TestSolveCmdRequiresPrompt(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, context.Background(), "solve", "--config", cfgPath, "--url", "http://localhost:8001/")
	assert.ErrorContains(t, err, "--prompt is required")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfgPath, stateDir := writeTestConfig(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = execute(t, ctx, "serve", "--config", cfgPath, "--port", fmt.Sprint(port))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(stateDir, "feedback.json"), "shutdown writes a final snapshot")
}

func TestServeRejectsUnknownAgentType(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, context.Background(), "serve", "--config", cfgPath, "--agent-type", "magic")
	assert.ErrorContains(t, err, `unknown agent type "magic"`)
}

func TestMissingConfigFile(t *testing.T) {
	t.Cleanup(observability.ResetForTest)
	_, err := execute(t, context.Background(), "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestConfigFromEmptyContext(t *testing.T) {
	_, err := configFrom(context.Background())
	assert.Error(t, err)
}
