package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cipherlend/rpc/client"
)

const (
	rpcURLEnv   = "CLEND_RPC_URL"
	rpcTokenEnv = "CLEND_RPC_TOKEN"

	defaultRPCURL = "http://127.0.0.1:8545"
)

type command struct {
	name  string
	usage string
	run   func(c *cli, args []string) error
}

var commands = []command{
	{"keygen", "keygen --out <path> [--passphrase-env VAR]", runKeygen},
	{"token", "token --subject <addr> [--secret S] [--issuer I] [--ttl 1h]", runToken},
	{"encrypt", "encrypt --account <addr> --value <n>", runEncrypt},
	{"stake", "stake --account <addr> --amount <n>", runStake},
	{"borrow", "borrow --account <addr> (--amount <n> | --handle <0x..>)", runBorrow},
	{"repay", "repay --account <addr> (--amount <n> | --handle <0x..>)", runRepay},
	{"withdraw", "withdraw --account <addr> (--amount <n> | --handle <0x..>)", runWithdraw},
	{"finalize", "finalize --id <request id>", runFinalize},
	{"position", "position --account <addr> [--decrypt]", runPosition},
	{"decrypt", "decrypt --account <addr> --handle <0x..>", runDecrypt},
	{"request", "request --id <request id>", runRequest},
	{"export", "export --out <file.parquet> [--after <sequence>]", runExport},
}

// cli carries global options shared by every subcommand.
type cli struct {
	rpcURL  string
	token   string
	timeout time.Duration
	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string

	newClient func(client.Config) (*client.Client, error)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, getenv: os.Getenv, newClient: client.NewClient}
	return c.run(args)
}

func (c *cli) run(args []string) int {
	global := flag.NewFlagSet("vault-cli", flag.ContinueOnError)
	global.SetOutput(c.stderr)
	global.StringVar(&c.rpcURL, "rpc", firstNonEmpty(c.getenv(rpcURLEnv), defaultRPCURL), "vaultd JSON-RPC endpoint")
	global.StringVar(&c.token, "token", c.getenv(rpcTokenEnv), "bearer token for authenticated methods")
	global.DurationVar(&c.timeout, "timeout", 15*time.Second, "request timeout")
	global.Usage = func() { c.printUsage() }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		c.printUsage()
		return 2
	}
	for _, cmd := range commands {
		if cmd.name != rest[0] {
			continue
		}
		if err := cmd.run(c, rest[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return 0
			}
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(c.stderr, "Error: unknown command %q\n", rest[0])
	c.printUsage()
	return 2
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.stderr, "Usage: vault-cli [--rpc URL] [--token JWT] <command> [flags]")
	fmt.Fprintln(c.stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(c.stderr, "  %s\n", cmd.usage)
	}
}

func (c *cli) client() (*client.Client, error) {
	return c.newClient(client.Config{BaseURL: c.rpcURL, BearerToken: c.token, Timeout: c.timeout})
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
