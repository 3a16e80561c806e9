package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"vaultledger/cmd/internal/credential"
	"vaultledger/services/vaultd/client"
)

const usage = `usage: vault-cli [--url URL] <command> [flags]

commands:
  create-vault --asset A --rate R --limit L
  vault        --id ID
  position     --vault ID --user U
  deposit      --vault ID --user U --amount N
  borrow       --vault ID --user U --amount N
  repay        --vault ID --user U --amount N
  withdraw     --vault ID --user U --amount N
  holding      --id HOLDING
  credit       --holding HOLDING --asset A --amount N
  pause        --module M [--paused=false]

The bearer token is read from VAULT_TOKEN or prompted for.`

var resolveToken = credential.NewSource("VAULT_TOKEN", "vaultd access token").Get

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("vault-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	url := global.String("url", defaultURL(), "vaultd base URL")
	timeout := global.Duration("timeout", 30*time.Second, "request timeout")
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage)
		return 1
	}
	fs := flag.NewFlagSet(rest[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	exec := cmd(fs)
	if err := fs.Parse(rest[1:]); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}

	token, err := resolveToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := exec(ctx, client.New(*url, token, nil))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return writeResult(stdout, stderr, result)
}

func defaultURL() string {
	if v := strings.TrimSpace(os.Getenv("VAULT_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}

type action func(ctx context.Context, c *client.Client) (any, error)

// commands registers each subcommand's flags and returns its action.
var commands = map[string]func(fs *flag.FlagSet) action{
	"create-vault": func(fs *flag.FlagSet) action {
		asset := fs.String("asset", "", "asset symbol")
		rate := fs.String("rate", "", "interest rate in [0,1]")
		limit := fs.String("limit", "", "borrow limit fraction in [0,1]")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"asset": *asset, "rate": *rate, "limit": *limit}); err != nil {
				return nil, err
			}
			return c.CreateVault(ctx, *asset, *rate, *limit)
		}
	},
	"vault": func(fs *flag.FlagSet) action {
		id := fs.String("id", "", "vault id")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"id": *id}); err != nil {
				return nil, err
			}
			return c.GetVault(ctx, *id)
		}
	},
	"position": func(fs *flag.FlagSet) action {
		vaultID := fs.String("vault", "", "vault id")
		user := fs.String("user", "", "user id")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"vault": *vaultID, "user": *user}); err != nil {
				return nil, err
			}
			return c.GetPosition(ctx, *vaultID, *user)
		}
	},
	"deposit": operation(func(ctx context.Context, c *client.Client, v, u string, n uint64) (any, error) {
		return status(c.Deposit(ctx, v, u, n))
	}),
	"borrow": operation(func(ctx context.Context, c *client.Client, v, u string, n uint64) (any, error) {
		return status(c.Borrow(ctx, v, u, n))
	}),
	"repay": operation(func(ctx context.Context, c *client.Client, v, u string, n uint64) (any, error) {
		return c.Repay(ctx, v, u, n)
	}),
	"withdraw": operation(func(ctx context.Context, c *client.Client, v, u string, n uint64) (any, error) {
		return c.Withdraw(ctx, v, u, n)
	}),
	"holding": func(fs *flag.FlagSet) action {
		id := fs.String("id", "", "holding id, e.g. user/usdc/alice")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"id": *id}); err != nil {
				return nil, err
			}
			return c.GetHolding(ctx, *id)
		}
	},
	"credit": func(fs *flag.FlagSet) action {
		holding := fs.String("holding", "", "holding id")
		asset := fs.String("asset", "", "asset symbol")
		amount := fs.String("amount", "", "amount in base units")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"holding": *holding, "asset": *asset, "amount": *amount}); err != nil {
				return nil, err
			}
			n, err := parseAmount(*amount)
			if err != nil {
				return nil, err
			}
			return c.Credit(ctx, *holding, *asset, n)
		}
	},
	"pause": func(fs *flag.FlagSet) action {
		module := fs.String("module", "vault", "module to toggle")
		paused := fs.Bool("paused", true, "pause (true) or resume (false)")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := c.SetPaused(ctx, *module, *paused); err != nil {
				return nil, err
			}
			return map[string]any{"module": *module, "paused": *paused}, nil
		}
	},
}

func operation(call func(ctx context.Context, c *client.Client, vaultID, user string, amount uint64) (any, error)) func(fs *flag.FlagSet) action {
	return func(fs *flag.FlagSet) action {
		vaultID := fs.String("vault", "", "vault id")
		user := fs.String("user", "", "user id")
		amount := fs.String("amount", "", "amount in base units")
		return func(ctx context.Context, c *client.Client) (any, error) {
			if err := required(map[string]string{"vault": *vaultID, "user": *user, "amount": *amount}); err != nil {
				return nil, err
			}
			n, err := parseAmount(*amount)
			if err != nil {
				return nil, err
			}
			return call(ctx, c, *vaultID, *user, n)
		}
	}
}

func status(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

// required reports the first empty flag in name order.
func required(flags map[string]string) error {
	for _, name := range []string{"asset", "rate", "limit", "id", "vault", "user", "holding", "amount"} {
		if v, ok := flags[name]; ok && strings.TrimSpace(v) == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func parseAmount(raw string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: must be a non-negative integer", raw)
	}
	return n, nil
}

func writeResult(stdout, stderr io.Writer, result any) int {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(stderr, "Error: encode result: %v\n", err)
		return 1
	}
	return 0
}
