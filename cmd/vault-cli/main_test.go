package main

import (
	"bytes"
	"context"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cipherlend/core"
	"cipherlend/core/genesis"
	"cipherlend/crypto"
	"cipherlend/fhe"
	"cipherlend/rpc"
	"cipherlend/rpc/client"
	"cipherlend/storage"
)

var testAccount = crypto.AddressFromRaw([20]byte{0xa1})

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Config{OracleAddress: key.PubKey().Address()})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if _, err := node.ApplyGenesis(context.Background(), []genesis.Allocation{{Account: testAccount.Raw(), Amount: big.NewInt(100)}}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	oracle, err := fhe.NewOracle(key, node)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	server, err := rpc.NewServer(node, oracle, rpc.ServerConfig{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	env := map[string]string{rpcURLEnv: ts.URL}
	return &cli{
		stdout:    stdout,
		stderr:    stderr,
		getenv:    func(k string) string { return env[k] },
		newClient: client.NewClient,
	}, stdout, stderr
}

func mustRun(t *testing.T, c *cli, stdout, stderr *bytes.Buffer, args ...string) string {
	t.Helper()
	stdout.Reset()
	stderr.Reset()
	if code := c.run(args); code != 0 {
		t.Fatalf("%v exited %d: %s", args, code, stderr.String())
	}
	return stdout.String()
}

func TestCLIWithdrawFlow(t *testing.T) {
	c, stdout, stderr := newTestCLI(t)
	account := testAccount.String()

	mustRun(t, c, stdout, stderr, "stake", "--account", account, "--amount", "50")
	mustRun(t, c, stdout, stderr, "borrow", "--account", account, "--amount", "10")
	out := mustRun(t, c, stdout, stderr, "position", "--account", account, "--decrypt")
	if !strings.Contains(out, "Stake: 50") || !strings.Contains(out, "Debt:  10") {
		t.Fatalf("unexpected position output:\n%s", out)
	}

	out = mustRun(t, c, stdout, stderr, "withdraw", "--account", account, "--amount", "100")
	if !strings.Contains(out, "request: 1") {
		t.Fatalf("unexpected withdraw output:\n%s", out)
	}
	out = mustRun(t, c, stdout, stderr, "finalize", "--id", "1")
	if !strings.Contains(out, "paid 30") {
		t.Fatalf("unexpected finalize output:\n%s", out)
	}

	stdout.Reset()
	stderr.Reset()
	if code := c.run([]string{"request", "--id", "1"}); code != 1 {
		t.Fatalf("expected finalized request lookup to fail, got %d", code)
	}
}

func TestCLIUsageErrors(t *testing.T) {
	c, _, stderr := newTestCLI(t)
	if code := c.run(nil); code != 2 {
		t.Fatalf("expected usage exit code, got %d", code)
	}
	if code := c.run([]string{"launch"}); code != 2 {
		t.Fatalf("expected unknown command exit code, got %d", code)
	}
	stderr.Reset()
	if code := c.run([]string{"stake", "--amount", "5"}); code != 1 {
		t.Fatalf("expected missing account failure, got %d", code)
	}
	if !strings.Contains(stderr.String(), "--account is required") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestCLITokenCommand(t *testing.T) {
	c, stdout, stderr := newTestCLI(t)
	out := mustRun(t, c, stdout, stderr, "token", "--subject", testAccount.String(), "--secret", "0123456789abcdef")
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}
}

func TestCLIExportWritesParquet(t *testing.T) {
	c, stdout, stderr := newTestCLI(t)
	mustRun(t, c, stdout, stderr, "stake", "--account", testAccount.String(), "--amount", "20")

	path := filepath.Join(t.TempDir(), "events.parquet")
	out := mustRun(t, c, stdout, stderr, "export", "--out", path)
	if !strings.Contains(out, "wrote 2 events") {
		t.Fatalf("unexpected export output: %s", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("export is not a parquet file")
	}
}
