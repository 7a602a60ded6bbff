package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/rcourtman/bashmate/internal/audit"
	"github.com/rcourtman/bashmate/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"BASHMATE_DATA_DIR", "BASHMATE_PROVIDER", "BASHMATE_MODEL", "BASHMATE_GUARD_MODE", "BASHMATE_POLICY_FILE",
	"BASHMATE_HISTORY_MODE", "BASHMATE_AUDIT_DB", "BASHMATE_LOG_FILE", "BASHMATE_COMMAND_TIMEOUT",
	"BASHMATE_MAX_TURNS", "BASHMATE_HOST_CONTEXT", "BASHMATE_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2024-01-01"
	GitCommit = "abcdef"
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Bash Mate 1.2.3")
	assert.Contains(t, out, "Built: 2024-01-01")
	assert.Contains(t, out, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	out, err = execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "Bash Mate 1.2.3\n", out)
}

func TestCheckCmd(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "", "check", "df -h", "rm -rf /tmp/cache")
	var exit *exitError
	require.True(t, errors.As(err, &exit), "expected exit error, got %v", err)
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "allowed  df -h\n")
	assert.Contains(t, out, "blocked  rm -rf /tmp/cache  (")

	out, err = execute(t, "", "check", "uptime", "free -m")
	require.NoError(t, err)
	assert.Equal(t, "allowed  uptime\nallowed  free -m\n", out)
}

func TestCheckCmd_Stdin(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "# read-only\nuptime\n\n  whoami  \n", "check")
	require.NoError(t, err)
	assert.Equal(t, "allowed  uptime\nallowed  whoami\n", out)
}

func TestCheckCmd_RulesMode(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "", "check", "--mode", "rules", "./my_mv_script.sh")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed  ./my_mv_script.sh")

	out, err = execute(t, "", "check", "--mode", "RULES", "mv a b")
	require.Error(t, err)
	assert.Contains(t, out, "blocked  mv a b")
}

func TestCheckCmd_PolicyFile(t *testing.T) {
	clearEnv(t)
	policy := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("extra_patterns:\n  - uptime\n"), 0o600))

	out, err := execute(t, "", "check", "--policy", policy, "uptime")
	require.Error(t, err)
	assert.Contains(t, out, "blocked  uptime  (uptime")

	require.NoError(t, os.WriteFile(policy, []byte("mode: allowlist\n"), 0o600))
	_, err = execute(t, "", "check", "--policy", policy, "uptime")
	require.Error(t, err)
	var exit *exitError
	assert.False(t, errors.As(err, &exit))
}

type plainGuard struct{}

func (plainGuard) IsHarmful(command string) bool { return strings.Contains(command, "reboot") }

func TestCheckCommands_GuardWithoutExplain(t *testing.T) {
	var out bytes.Buffer
	n := checkCommands(&out, plainGuard{}, []string{"reboot now", "ls"})
	assert.Equal(t, 1, n)
	assert.Equal(t, "blocked  reboot now  (blocked by policy)\nallowed  ls\n", out.String())
}

func TestAuditCmd(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.Open(path, -1)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, audit.Entry{SessionID: "session-one", Command: "uptime", Decision: audit.DecisionAllowed, Duration: 12 * time.Millisecond}))
	require.NoError(t, store.Record(ctx, audit.Entry{SessionID: "session-two", Command: "rm -rf /", Decision: audit.DecisionBlocked, Rule: "rm -rf"}))
	require.NoError(t, store.Close())

	out, err := execute(t, "", "audit", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "DECISION")
	assert.Contains(t, out, "uptime")
	assert.Contains(t, out, "rm -rf /")
	assert.Contains(t, out, "session-")

	out, err = execute(t, "", "audit", "--db", path, "--json", "--session", "session-two")
	require.NoError(t, err)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "rm -rf /", entries[0].Command)
	assert.Equal(t, audit.DecisionBlocked, entries[0].Decision)

	t.Setenv("BASHMATE_AUDIT_DB", path)
	out, err = execute(t, "", "audit", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "rm -rf /")
	assert.NotContains(t, out, "uptime")
}

func TestAuditCmd_NotConfigured(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "", "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASHMATE_AUDIT_DB")

	var out bytes.Buffer
	printEntries(&out, nil)
	assert.Equal(t, "No audit entries.\n", out.String())
}

type idleProvider struct{}

func (idleProvider) Chat(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "ok"}, nil
}
func (idleProvider) TestConnection(context.Context) error { return nil }
func (idleProvider) Name() string                         { return "idle" }

func TestHealthHandler(t *testing.T) {
	svc, err := chat.NewService(chat.Config{Provider: idleProvider{}})
	require.NoError(t, err)
	defer svc.Close()
	_, err = svc.NewSession()
	require.NoError(t, err)

	hub, err := websocket.NewHub(websocket.Config{Sessions: svc})
	require.NoError(t, err)
	handler := healthHandler(svc, hub)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, 0, body.Clients)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeUntilDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveUntilDone(ctx, newMetricsServer("127.0.0.1:0"), "test", time.Second)
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	err := serveUntilDone(context.Background(), newMetricsServer("127.0.0.1:-1"), "test", time.Second)
	assert.Error(t, err)
}
