package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"cipherlend/cmd/internal/passphrase"
	"cipherlend/core/types"
	"cipherlend/crypto"
	"cipherlend/rpc"
	"cipherlend/rpc/client"
)

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

func runKeygen(c *cli, args []string) error {
	fs := c.flags("keygen")
	out := fs.String("out", "", "keystore output path")
	passEnv := fs.String("passphrase-env", "CLEND_KEYSTORE_PASSPHRASE", "environment variable holding the passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("out", *out); err != nil {
		return err
	}
	secret, err := passphrase.NewSource(*passEnv, "keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, secret, *force); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "address: %s\nkeystore: %s\n", key.PubKey().Address(), *out)
	return nil
}

func runToken(c *cli, args []string) error {
	fs := c.flags("token")
	subject := fs.String("subject", "", "token subject (account address or operator name)")
	secret := fs.String("secret", c.getenv("CLEND_AUTH_SECRET"), "HMAC secret shared with vaultd")
	issuer := fs.String("issuer", "", "token issuer")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("subject", *subject); err != nil {
		return err
	}
	token, err := rpc.IssueToken(*secret, *issuer, strings.TrimSpace(*subject), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	return nil
}

func runEncrypt(c *cli, args []string) error {
	fs := c.flags("encrypt")
	account := fs.String("account", "", "account allowed to use the input")
	value := fs.Uint64("value", 0, "cleartext value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	h, err := cl.Encrypt(ctx, *account, *value)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, h.Hex())
	return nil
}

func runStake(c *cli, args []string) error {
	fs := c.flags("stake")
	account := fs.String("account", "", "staking account")
	amountStr := fs.String("amount", "", "base-asset amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(*amountStr))
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	h, err := cl.Stake(ctx, *account, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "deposit: %s\n", h.Hex())
	return nil
}

type amountFlags struct {
	account *string
	amount  *uint64
	handle  *string
}

func bindAmountFlags(c *cli, name string, args []string) (*amountFlags, error) {
	fs := c.flags(name)
	f := &amountFlags{
		account: fs.String("account", "", "acting account"),
		amount:  fs.Uint64("amount", 0, "cleartext amount, encrypted through the node before use"),
		handle:  fs.String("handle", "", "existing input handle"),
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := requireFlag("account", *f.account); err != nil {
		return nil, err
	}
	return f, nil
}

// input resolves the amount handle, encrypting --amount when no handle is given.
func (f *amountFlags) input(c *cli, cl *client.Client) (types.Handle, error) {
	if strings.TrimSpace(*f.handle) != "" {
		return types.ParseHandle(*f.handle)
	}
	if *f.amount == 0 {
		return types.ZeroHandle, errors.New("--amount or --handle is required")
	}
	ctx, cancel := c.context()
	defer cancel()
	return cl.Encrypt(ctx, *f.account, *f.amount)
}

func runHandleOp(c *cli, name string, args []string, op func(cl *client.Client, account string, amount types.Handle) error) error {
	f, err := bindAmountFlags(c, name, args)
	if err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	amount, err := f.input(c, cl)
	if err != nil {
		return err
	}
	return op(cl, *f.account, amount)
}

func runBorrow(c *cli, args []string) error {
	return runHandleOp(c, "borrow", args, func(cl *client.Client, account string, amount types.Handle) error {
		ctx, cancel := c.context()
		defer cancel()
		minted, err := cl.Borrow(ctx, account, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "minted: %s\n", minted.Hex())
		return nil
	})
}

func runRepay(c *cli, args []string) error {
	return runHandleOp(c, "repay", args, func(cl *client.Client, account string, amount types.Handle) error {
		ctx, cancel := c.context()
		defer cancel()
		burned, err := cl.Repay(ctx, account, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "burned: %s\n", burned.Hex())
		return nil
	})
}

func runWithdraw(c *cli, args []string) error {
	return runHandleOp(c, "withdraw", args, func(cl *client.Client, account string, amount types.Handle) error {
		ctx, cancel := c.context()
		defer cancel()
		req, err := cl.RequestWithdraw(ctx, account, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "request: %d\namount: %s\n", req.RequestID, req.Amount.Hex())
		return nil
	})
}

func runFinalize(c *cli, args []string) error {
	fs := c.flags("finalize")
	id := fs.Uint64("id", 0, "withdraw request id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("--id is required")
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	req, err := cl.WithdrawRequest(ctx, *id)
	if err != nil {
		return err
	}
	value, proof, err := cl.PublicDecrypt(ctx, req.Amount)
	if err != nil {
		return fmt.Errorf("disclose amount: %w", err)
	}
	if _, err := cl.FinalizeWithdraw(ctx, *id, value, proof); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "finalized request %d: paid %d to %s\n", *id, value, req.Recipient)
	return nil
}

func runPosition(c *cli, args []string) error {
	fs := c.flags("position")
	account := fs.String("account", "", "account to inspect")
	decrypt := fs.Bool("decrypt", false, "decrypt stake and debt (requires a token for the account)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	pos, err := cl.Position(ctx, *account)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Position for %s\n", pos.Account)
	if !*decrypt {
		fmt.Fprintf(c.stdout, "  Stake: %s\n  Debt:  %s\n", pos.Stake.Hex(), pos.Debt.Hex())
		return nil
	}
	stake, err := cl.UserDecrypt(ctx, *account, pos.Stake)
	if err != nil {
		return fmt.Errorf("decrypt stake: %w", err)
	}
	debt, err := cl.UserDecrypt(ctx, *account, pos.Debt)
	if err != nil {
		return fmt.Errorf("decrypt debt: %w", err)
	}
	fmt.Fprintf(c.stdout, "  Stake: %d\n  Debt:  %d\n", stake, debt)
	return nil
}

func runDecrypt(c *cli, args []string) error {
	fs := c.flags("decrypt")
	account := fs.String("account", "", "account holding the grant")
	handle := fs.String("handle", "", "handle to open")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	h, err := types.ParseHandle(*handle)
	if err != nil {
		return fmt.Errorf("invalid --handle: %w", err)
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	value, err := cl.UserDecrypt(ctx, *account, h)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, value)
	return nil
}

func runRequest(c *cli, args []string) error {
	fs := c.flags("request")
	id := fs.Uint64("id", 0, "withdraw request id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	req, err := cl.WithdrawRequest(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "request: %d\nrecipient: %s\namount: %s\n", req.RequestID, req.Recipient, req.Amount.Hex())
	return nil
}
