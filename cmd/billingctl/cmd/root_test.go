package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newWorkspace points billingctl at a fresh SQLite file and returns a
// runner that executes one command line against it.
func newWorkspace(t *testing.T) func(args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := "store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "billing.db") + "\nlog:\n  level: error\n"
	if err := os.WriteFile(filepath.Join(dir, "billing.yaml"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return func(args ...string) (string, error) {
		t.Helper()
		var out, errOut bytes.Buffer
		root := NewRootCmd()
		root.SetOut(&out)
		root.SetErr(&errOut)
		root.SetArgs(args)
		err := root.Execute()
		return out.String(), err
	}
}

func mustRun(t *testing.T, run func(args ...string) (string, error), args ...string) string {
	t.Helper()
	out, err := run(args...)
	if err != nil {
		t.Fatalf("billingctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestChargeLifecycle(t *testing.T) {
	run := newWorkspace(t)

	mustRun(t, run, "migrate")
	mustRun(t, run, "command", "register", "/Report", "--scope", "group", "--description", "Daily report")
	mustRun(t, run, "policy", "set", "GROUP:g1", "report", "--mode", "credit", "--cost", "40")
	mustRun(t, run, "wallet", "topup", "GROUP:g1", "100", "--ref-type", "invoice", "--ref-id", "INV-1")

	wantStatuses := []string{"status=charged", "status=charged", "status=insufficient"}
	for i, want := range wantStatuses {
		out := mustRun(t, run, "charge", "report", "--group", "g1")
		if !strings.Contains(out, want) {
			t.Errorf("charge #%d output = %q, want %q", i+1, out, want)
		}
	}

	if out := mustRun(t, run, "wallet", "balance", "GROUP:g1"); !strings.Contains(out, "balance=20") {
		t.Errorf("balance output = %q, want balance=20", out)
	}
	if out := mustRun(t, run, "wallet", "reconcile", "GROUP:g1"); !strings.Contains(out, "consistent=true") {
		t.Errorf("reconcile output = %q, want consistent=true", out)
	}

	var entries []map[string]any
	out := mustRun(t, run, "wallet", "history", "GROUP:g1", "--json")
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0]["tx_type"] != "DEBIT" || entries[2]["tx_type"] != "CREDIT" {
		t.Errorf("entries not newest first: %v", entries)
	}
}

func TestResolveOnlyDoesNotCharge(t *testing.T) {
	run := newWorkspace(t)

	mustRun(t, run, "migrate")
	mustRun(t, run, "command", "register", "report")
	mustRun(t, run, "policy", "set", "LEASING:acme", "report", "--mode", "CREDIT", "--cost", "2", "--wallet-scope", "LEASING")
	mustRun(t, run, "policy", "set", "GROUP:g1", "report", "--mode", "FREE")

	out := mustRun(t, run, "charge", "report", "--group", "g1", "--leasing", "acme", "--resolve-only")
	if !strings.Contains(out, "hit=GROUP") || !strings.Contains(out, "mode=FREE") {
		t.Errorf("resolve output = %q, want the group policy", out)
	}

	mustRun(t, run, "policy", "delete", "GROUP:g1", "report")
	out = mustRun(t, run, "charge", "report", "--group", "g1", "--leasing", "acme", "--resolve-only")
	if !strings.Contains(out, "hit=LEASING") || !strings.Contains(out, "cost=2") {
		t.Errorf("resolve output = %q, want the leasing policy", out)
	}

	if out := mustRun(t, run, "wallet", "balance", "LEASING:acme"); !strings.Contains(out, "balance=0") {
		t.Errorf("balance output = %q, want balance=0", out)
	}
}

func TestWalletDeactivation(t *testing.T) {
	run := newWorkspace(t)

	mustRun(t, run, "migrate")
	mustRun(t, run, "command", "register", "report")
	mustRun(t, run, "policy", "set", "GROUP:g1", "report", "--use-credit", "--cost", "1")
	mustRun(t, run, "wallet", "topup", "GROUP:g1", "5")
	mustRun(t, run, "wallet", "deactivate", "GROUP:g1")

	if out := mustRun(t, run, "charge", "report", "--group", "g1"); !strings.Contains(out, "status=wallet_inactive") {
		t.Errorf("charge output = %q, want wallet_inactive", out)
	}

	mustRun(t, run, "wallet", "activate", "GROUP:g1")
	if out := mustRun(t, run, "charge", "report", "--group", "g1"); !strings.Contains(out, "status=charged") {
		t.Errorf("charge output = %q, want charged", out)
	}
}

func TestCommandSeedAndList(t *testing.T) {
	run := newWorkspace(t)
	mustRun(t, run, "migrate")

	seed := "commands:\n  - key: report\n    scope: GROUP\n  - key: track\n  - key: report\n"
	if err := os.WriteFile("commands.yaml", []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	out, err := run("command", "seed", "commands.yaml")
	if err == nil {
		t.Fatal("seed with a duplicate key succeeded")
	}
	if !strings.Contains(out, "registered 2 of 3 commands") {
		t.Errorf("seed output = %q", out)
	}

	mustRun(t, run, "command", "disable", "track")
	out = mustRun(t, run, "command", "list", "--active")
	if !strings.Contains(out, "report") || strings.Contains(out, "track") {
		t.Errorf("active list = %q, want only report", out)
	}
}

func TestCommandErrors(t *testing.T) {
	run := newWorkspace(t)
	mustRun(t, run, "migrate")

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad target", args: []string{"wallet", "balance", "CITY:x"}},
		{name: "bad amount", args: []string{"wallet", "topup", "GROUP:g1", "ten"}},
		{name: "non positive amount", args: []string{"wallet", "topup", "GROUP:g1", "0"}},
		{name: "unknown command", args: []string{"policy", "set", "GROUP:g1", "nope", "--mode", "FREE"}},
		{name: "credit without cost", args: []string{"policy", "set", "GROUP:g1", "report", "--mode", "CREDIT"}},
		{name: "missing group", args: []string{"charge", "report"}},
	}
	mustRun(t, run, "command", "register", "report")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(tt.args...); err == nil {
				t.Errorf("billingctl %s succeeded, want error", strings.Join(tt.args, " "))
			}
		})
	}
}

func TestReconcileOnMissingWallet(t *testing.T) {
	run := newWorkspace(t)
	mustRun(t, run, "migrate")

	out, err := run("wallet", "reconcile", "GROUP:nobody")
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}
	if !strings.Contains(out, "consistent=true") {
		t.Errorf("reconcile output = %q", out)
	}
}
