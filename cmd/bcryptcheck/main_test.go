package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quickEnv configures the go driver at the lowest costs so a full battery runs in milliseconds.
func quickEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"HASH_DRIVER":                 "go",
		"NOMINAL_COST":                "4",
		"LOW_COST":                    "4",
		"HIGH_COST":                   "5",
		"LATENCY_COST":                "4",
		"LATENCY_SAMPLES":             "2",
		"REPORT_FORMAT":               "text",
		"LOG_LEVEL":                   "error",
		"DATABASE_URL":                "",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "",
		"LOKI_URL":                    "",
		"GATE_POLICY_FILE":            "",
		"ATTEST_PRIVATE_KEY":          "",
		"ATTEST_PUBLIC_KEY":           "",
	} {
		t.Setenv(k, v)
	}
}

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_NoArgsVerifies(t *testing.T) {
	quickEnv(t)
	code, out, errOut := execute(t)
	require.Equal(t, 0, code, "stderr: %s\nstdout: %s", errOut, out)
	assert.Contains(t, out, "bcryptcheck verification")
	assert.Contains(t, out, "round-trip (async)")
	assert.Contains(t, out, "11 passed, 0 failed, 0 skipped")
	assert.Contains(t, out, "gate policy default")
}

func TestRun_VerifyJSONAndHistory(t *testing.T) {
	quickEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "history.db"))

	code, out, errOut := execute(t, "verify", "--format", "json")
	require.Equal(t, 0, code, "stderr: %s", errOut)

	var doc struct {
		Verdict string `json:"verdict"`
		Result  struct {
			RunID  string `json:"run_id"`
			Driver string `json:"driver"`
			Cases  []struct {
				Name   string `json:"name"`
				Passed bool   `json:"passed"`
				Path   string `json:"path"`
			} `json:"cases"`
		} `json:"result"`
		Gate struct {
			Allow bool `json:"allow"`
		} `json:"gate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "PASS", doc.Verdict)
	assert.Equal(t, "go", doc.Result.Driver)
	assert.True(t, doc.Gate.Allow)
	require.Len(t, doc.Result.Cases, 11)
	assert.Equal(t, "environment", doc.Result.Cases[0].Name)
	assert.Equal(t, "capability availability", doc.Result.Cases[1].Name)
	assert.Equal(t, "mixed", doc.Result.Cases[4].Path)

	code, out, errOut = execute(t, "history", "--limit", "5")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.Contains(t, out, "ALLOW")
	assert.Contains(t, out, "go")
}

func TestRun_HistoryDisabled(t *testing.T) {
	quickEnv(t)
	code, _, errOut := execute(t, "history")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "DATABASE_URL is not set")
}

func TestRun_NodeRuntimeMissing(t *testing.T) {
	quickEnv(t)
	t.Setenv("HASH_DRIVER", "node")
	t.Setenv("NODE_BINARY", filepath.Join(t.TempDir(), "no-such-node"))

	code, out, _ := execute(t, "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "[FAIL]")
	assert.Contains(t, out, "runtime_missing")
	assert.Contains(t, out, "skipped: capability unavailable")
	assert.Contains(t, out, "[DENY]")
}

func TestRun_StricterPolicyDenies(t *testing.T) {
	quickEnv(t)
	policy := filepath.Join(t.TempDir(), "gate.rego")
	require.NoError(t, os.WriteFile(policy, []byte(`package bcryptcheck.gate

default allow := false

reasons contains "driver go is not allowed in production"
`), 0o644))
	t.Setenv("GATE_POLICY_FILE", policy)

	code, out, _ := execute(t, "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "11 passed, 0 failed, 0 skipped")
	assert.Contains(t, out, "driver go is not allowed in production")
}

func writeKeys(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath = filepath.Join(dir, "attest.key")
	pubPath = filepath.Join(dir, "attest.pub")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644))
	return privPath, pubPath
}

func TestRun_AttestRoundTrip(t *testing.T) {
	quickEnv(t)
	priv, pub := writeKeys(t)
	t.Setenv("ATTEST_PRIVATE_KEY", priv)
	t.Setenv("ATTEST_PUBLIC_KEY", pub)
	tokenPath := filepath.Join(t.TempDir(), "verdict.jwt")

	code, _, errOut := execute(t, "verify", "--attest-out", tokenPath)
	require.Equal(t, 0, code, "stderr: %s", errOut)

	code, out, errOut := execute(t, "attest", "check", tokenPath)
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.Contains(t, out, "verdict allow")

	raw, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	parts := strings.Split(strings.TrimSpace(string(raw)), ".")
	require.Len(t, parts, 3)
	parts[2] = strings.Repeat("A", len(parts[2]))
	require.NoError(t, os.WriteFile(tokenPath, []byte(strings.Join(parts, ".")), 0o644))

	code, _, errOut = execute(t, "attest", "check", tokenPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid token")
}

func TestRun_AttestNeedsKey(t *testing.T) {
	quickEnv(t)
	code, out, errOut := execute(t, "verify", "--attest-out", filepath.Join(t.TempDir(), "v.jwt"))
	assert.Equal(t, 1, code)
	assert.Empty(t, out, "nothing runs without a signing key")
	assert.Contains(t, errOut, "ATTEST_PRIVATE_KEY")
}

func TestRun_RebuildDryRun(t *testing.T) {
	quickEnv(t)
	project := t.TempDir()
	code, out, errOut := execute(t, "rebuild", "--dry-run", "--project", project, "--pm", "yarn")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.Contains(t, out, "remove "+filepath.Join(project, "node_modules", "bcrypt"))
	assert.Contains(t, out, "yarn cache clean bcrypt")
	assert.Contains(t, out, "npm_config_build_from_source=true yarn add bcrypt --force")
}

func TestRun_RebuildRejectsBadPackage(t *testing.T) {
	quickEnv(t)
	code, _, errOut := execute(t, "rebuild", "--dry-run", "--package", "../../etc")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid package name")
}

func TestRun_EnvJSON(t *testing.T) {
	quickEnv(t)
	code, out, errOut := execute(t, "env", "--format", "json")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	var rep envReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "go", rep.Driver)
	assert.NotEmpty(t, rep.Environment.OS)
	assert.Equal(t, "go", rep.Environment.Runtime.Name)
	assert.Nil(t, rep.Diagnosis)
	assert.Equal(t, "ok", rep.GateEngine)
}

func TestRun_EnvDiagnosesLoadFailure(t *testing.T) {
	quickEnv(t)
	t.Setenv("HASH_DRIVER", "node")
	t.Setenv("NODE_BINARY", filepath.Join(t.TempDir(), "no-such-node"))
	code, out, errOut := execute(t, "env")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.Contains(t, out, "load:     runtime_missing")
}

func TestRun_ConfigError(t *testing.T) {
	quickEnv(t)
	t.Setenv("NOMINAL_COST", "99")
	code, _, errOut := execute(t, "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "NOMINAL_COST")
}

func TestRun_UnknownFormatRejectedBeforeRun(t *testing.T) {
	quickEnv(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("DATABASE_URL", "sqlite://"+dbPath)

	code, out, errOut := execute(t, "verify", "--format", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown format")
	assert.Empty(t, out, "no checks run and no report is written")
	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "history store is not touched")
}

func TestRun_FormatFlagIsCaseInsensitive(t *testing.T) {
	quickEnv(t)
	code, out, errOut := execute(t, "verify", "--format", "JSON")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
}

func TestRun_RebuildRejectsUnknownFormatBeforeRebuilding(t *testing.T) {
	quickEnv(t)
	code, out, errOut := execute(t, "rebuild", "--project", t.TempDir(), "--format", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown format")
	assert.NotContains(t, out, "rebuilt")
}
