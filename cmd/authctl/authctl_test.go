package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eis-1/electrical-supplier-website-sub001/password"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	flagJSON, flagEmail, flagAccountID, flagRole, flagKeyType = false, "", "", "admin", "hs256"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func setKeys(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", strings.Repeat("ab", 32))
	t.Setenv("TWO_FACTOR_ENCRYPTION_KEY", strings.Repeat("cd", 32))
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("REDIS_URL", "embedded")
	t.Setenv("SESSION_STORE", "redis")
}

func TestKeygenPrintsUsableKeys(t *testing.T) {
	out, err := runCLI(t, "", "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		values[name] = value
	}
	for _, name := range []string{"JWT_SECRET", "TWO_FACTOR_ENCRYPTION_KEY"} {
		raw, err := hex.DecodeString(values[name])
		if err != nil || len(raw) != 32 {
			t.Fatalf("%s is not 32 hex bytes: %q", name, values[name])
		}
	}

	out, err = runCLI(t, "", "keygen", "--type", "ed25519", "--json")
	if err != nil {
		t.Fatalf("keygen ed25519: %v", err)
	}
	var keys []envKey
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(keys) != 4 || keys[1].Name != "JWT_PRIVATE_KEY" || len(keys[1].Value) != 128 {
		t.Fatalf("unexpected ed25519 keys %+v", keys)
	}

	if _, err := runCLI(t, "", "keygen", "--type", "rsa"); err == nil {
		t.Fatal("unknown key type must fail")
	}
}

func TestHashPasswordReadsStdin(t *testing.T) {
	out, err := runCLI(t, "a-long-admin-password\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected PHC argon2id hash, got %q", hash)
	}
	h, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	ok, err := h.Verify("a-long-admin-password", hash)
	if err != nil || !ok {
		t.Fatalf("hash does not verify: %v", err)
	}

	if _, err := runCLI(t, "", "hash-password"); err == nil {
		t.Fatal("empty stdin must fail")
	}
}

func TestCreateAccount(t *testing.T) {
	setKeys(t)
	out, err := runCLI(t, "a-long-admin-password\n", "create-account", "--email", "Owner@Example.com", "--json")
	if err != nil {
		t.Fatalf("create-account: %v", err)
	}
	var p struct {
		ID    string
		Email string
		Role  string
	}
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if p.ID == "" || p.Email != "owner@example.com" || p.Role != "admin" {
		t.Fatalf("unexpected account %+v", p)
	}

	if _, err := runCLI(t, "short\n", "create-account", "--email", "x@example.com"); err == nil {
		t.Fatal("short password must be rejected")
	}
	if _, err := runCLI(t, "a-long-admin-password\n", "create-account", "--email", "x@example.com", "--role", "owner"); err == nil {
		t.Fatal("unknown role must be rejected")
	}
}

func TestRevokeSessionsRefusesEmbeddedRedis(t *testing.T) {
	setKeys(t)
	_, err := runCLI(t, "", "revoke-sessions", "--account-id", "abc")
	if !errors.Is(err, errEmbeddedSessions) {
		t.Fatalf("expected errEmbeddedSessions, got %v", err)
	}
	if _, err := runCLI(t, "", "revoke-sessions"); err == nil {
		t.Fatal("missing selector must fail")
	}
}

func TestConfigReport(t *testing.T) {
	setKeys(t)
	out, err := runCLI(t, "", "config-report", "--json")
	if err != nil {
		t.Fatalf("config-report: %v", err)
	}
	var body struct {
		Valid  bool
		Report struct {
			SigningAlgorithm string
			BackupCodeCount  int
		}
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if !body.Valid || body.Report.SigningAlgorithm != "hs256" || body.Report.BackupCodeCount != 10 {
		t.Fatalf("unexpected report %s", out)
	}

	t.Setenv("JWT_SECRET", "")
	out, err = runCLI(t, "", "config-report")
	if err == nil {
		t.Fatal("missing signing key must fail validation")
	}
	if !strings.Contains(out, "signing") {
		t.Fatalf("text report missing fields: %q", out)
	}
}

func TestLoadtestOnMiniredis(t *testing.T) {
	out, err := runCLI(t, "", "loadtest", "--records", "20", "--concurrency", "4", "--ops", "100")
	if err != nil {
		t.Fatalf("loadtest: %v", err)
	}
	for _, want := range []string{"lookup: ops=100 failures=0", "rotate: ops=100 failures=0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
