package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/cmd/internal/passphrase"
	"stablebank/core/types"
	"stablebank/crypto"
	"stablebank/native/bank"
	"stablebank/native/token"
)

const (
	methodApprove  = "approve"
	methodTransfer = "transfer"
)

type cli struct {
	api    string
	stdout io.Writer
	stderr io.Writer

	// passphrase overrides keystore passphrase resolution in tests.
	passphrase func(envVar string, confirm bool) (string, error)
}

type commandFunc func(c *cli, args []string) error

var commands = map[string]commandFunc{
	"keygen":           (*cli).keygen,
	"address":          (*cli).address,
	"info":             (*cli).info,
	"balance":          (*cli).balance,
	"token-balance":    (*cli).tokenBalance,
	"allowed":          (*cli).allowed,
	"preview-withdraw": (*cli).previewWithdraw,
	"quote":            (*cli).quote,
	"tx":               (*cli).transaction,
	"approve":          txCommand(3, buildApprove),
	"transfer":         txCommand(3, buildTransfer),
	"send-native":      txCommand(2, buildSendNative),
	"deposit":          txCommand(1, bankCall(bank.MethodDepositSettlement)),
	"deposit-native":   txCommand(2, buildDepositNative),
	"deposit-asset":    txCommand(3, buildDepositAsset),
	"withdraw":         txCommand(1, bankCall(bank.MethodWithdraw)),
	"set-allowed":      txCommand(2, buildSetAllowed),
	"set-cap":          txCommand(1, buildSetCap),
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.api, "api", c.api, "bankd base URL")
	return fs
}

func (c *cli) client() *client { return newClient(c.api) }

func (c *cli) resolvePassphrase(envVar string, confirm bool) (string, error) {
	if c.passphrase != nil {
		return c.passphrase(envVar, confirm)
	}
	src := passphrase.NewSource(envVar)
	if confirm {
		src = src.WithConfirmation()
	}
	return src.Get()
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) keygen(args []string) error {
	fs := c.flagSet("keygen")
	out := fs.String("out", "", "keystore output path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return fmt.Errorf("--out is required")
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("keystore %s already exists (use --force to overwrite)", *out)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := c.resolvePassphrase(*passEnv, true)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintln(c.stdout, key.Address().Hex())
	return nil
}

func (c *cli) loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := c.resolvePassphrase(passEnv, false)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}

func (c *cli) address(args []string) error {
	fs := c.flagSet("address")
	keyPath := fs.String("key", "", "keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := c.loadKey(*keyPath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, key.Address().Hex())
	return nil
}

func (c *cli) info(args []string) error {
	if _, err := c.positional("info", args, 0); err != nil {
		return err
	}
	info, err := c.client().bank(context.Background())
	if err != nil {
		return err
	}
	return c.printJSON(info)
}

func (c *cli) balance(args []string) error {
	pos, err := c.positional("balance", args, 1)
	if err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(pos[0])
	if err != nil {
		return err
	}
	info, err := c.client().account(context.Background(), addr)
	if err != nil {
		return err
	}
	return c.printJSON(info)
}

func (c *cli) tokenBalance(args []string) error {
	pos, err := c.positional("token-balance", args, 2)
	if err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(pos[0])
	if err != nil {
		return err
	}
	asset, err := parseAsset(pos[1])
	if err != nil {
		return err
	}
	return c.getAndPrint("/v1/accounts/"+addr.Hex()+"/tokens/"+asset.Hex(), nil)
}

func (c *cli) allowed(args []string) error {
	pos, err := c.positional("allowed", args, 1)
	if err != nil {
		return err
	}
	asset, err := parseAsset(pos[0])
	if err != nil {
		return err
	}
	return c.getAndPrint("/v1/assets/"+asset.Hex(), nil)
}

func (c *cli) previewWithdraw(args []string) error {
	pos, err := c.positional("preview-withdraw", args, 2)
	if err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(pos[0])
	if err != nil {
		return err
	}
	amount, err := parseAmount(pos[1])
	if err != nil {
		return err
	}
	return c.getAndPrint("/v1/accounts/"+addr.Hex()+"/preview-withdraw", url.Values{"amount": {amount.String()}})
}

func (c *cli) quote(args []string) error {
	pos, err := c.positional("quote", args, 2)
	if err != nil {
		return err
	}
	amount, err := parseAmount(pos[0])
	if err != nil {
		return err
	}
	parts := strings.Split(pos[1], ",")
	for i, part := range parts {
		asset, err := parseAsset(part)
		if err != nil {
			return err
		}
		parts[i] = asset.Hex()
	}
	return c.getAndPrint("/v1/exchange/quote", url.Values{"amountIn": {amount.String()}, "path": {strings.Join(parts, ",")}})
}

func (c *cli) transaction(args []string) error {
	pos, err := c.positional("tx", args, 1)
	if err != nil {
		return err
	}
	return c.getAndPrint("/v1/tx/"+url.PathEscape(strings.TrimSpace(pos[0])), nil)
}

func (c *cli) getAndPrint(path string, query url.Values) error {
	raw, err := c.client().getRaw(context.Background(), path, query)
	if err != nil {
		return err
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	return c.printJSON(pretty)
}

func (c *cli) positional(name string, args []string, want int) ([]string, error) {
	fs := c.flagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", name, want, fs.NArg())
	}
	return fs.Args(), nil
}

// txBuilder turns positional arguments into an unsigned transaction.
type txBuilder func(info *bankInfo, args []string) (*types.Transaction, error)

func txCommand(want int, build txBuilder) commandFunc {
	return func(c *cli, args []string) error {
		fs := c.flagSet("tx")
		keyPath := fs.String("key", "", "keystore file")
		passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the passphrase")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != want {
			return fmt.Errorf("expected %d argument(s), got %d", want, fs.NArg())
		}
		key, err := c.loadKey(*keyPath, *passEnv)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		api := c.client()
		info, err := api.bank(ctx)
		if err != nil {
			return fmt.Errorf("load bank info: %w", err)
		}
		tx, err := build(info, fs.Args())
		if err != nil {
			return err
		}
		account, err := api.account(ctx, key.Address())
		if err != nil {
			return fmt.Errorf("load nonce: %w", err)
		}
		tx.ChainID = strconv.FormatUint(info.ChainID, 10)
		tx.Nonce = account.Nonce
		if err := tx.Sign(key.PrivateKey); err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}
		rec, err := api.submit(ctx, tx)
		if err != nil {
			return err
		}
		if err := c.printJSON(rec); err != nil {
			return err
		}
		if rec.Status != "applied" {
			return fmt.Errorf("transaction rejected: %s", rec.Code)
		}
		return nil
	}
}

func bankCall(method string) txBuilder {
	return func(info *bankInfo, args []string) (*types.Transaction, error) {
		amount, err := parseAmount(args[0])
		if err != nil {
			return nil, err
		}
		return &types.Transaction{To: common.HexToAddress(info.Address), Method: method, Amount: amount}, nil
	}
}

func buildApprove(_ *bankInfo, args []string) (*types.Transaction, error) {
	return tokenCall(methodApprove, args)
}

func buildTransfer(_ *bankInfo, args []string) (*types.Transaction, error) {
	return tokenCall(methodTransfer, args)
}

func tokenCall(method string, args []string) (*types.Transaction, error) {
	asset, err := parseAsset(args[0])
	if err != nil {
		return nil, err
	}
	counterparty, err := crypto.ParseAddress(args[1])
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return nil, err
	}
	return &types.Transaction{To: asset, Method: method, Account: counterparty, Amount: amount}, nil
}

func buildSendNative(_ *bankInfo, args []string) (*types.Transaction, error) {
	to, err := crypto.ParseAddress(args[0])
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(args[1])
	if err != nil {
		return nil, err
	}
	return &types.Transaction{To: to, Value: value}, nil
}

func buildDepositNative(info *bankInfo, args []string) (*types.Transaction, error) {
	value, err := parseAmount(args[0])
	if err != nil {
		return nil, err
	}
	minOut, err := parseAmount(args[1])
	if err != nil {
		return nil, err
	}
	return &types.Transaction{To: common.HexToAddress(info.Address), Method: bank.MethodDepositNativeConvert, Value: value, MinOut: minOut}, nil
}

func buildDepositAsset(info *bankInfo, args []string) (*types.Transaction, error) {
	asset, err := parseAsset(args[0])
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return nil, err
	}
	minOut, err := parseAmount(args[2])
	if err != nil {
		return nil, err
	}
	return &types.Transaction{To: common.HexToAddress(info.Address), Method: bank.MethodDepositAssetConvert, Asset: asset, Amount: amount, MinOut: minOut}, nil
}

func buildSetAllowed(info *bankInfo, args []string) (*types.Transaction, error) {
	asset, err := parseAsset(args[0])
	if err != nil {
		return nil, err
	}
	allowed, err := strconv.ParseBool(strings.TrimSpace(args[1]))
	if err != nil {
		return nil, fmt.Errorf("allowed must be true or false")
	}
	return &types.Transaction{To: common.HexToAddress(info.Address), Method: bank.MethodSetAssetAllowed, Asset: asset, Allowed: allowed}, nil
}

func buildSetCap(info *bankInfo, args []string) (*types.Transaction, error) {
	limit, ok := new(big.Int).SetString(strings.ReplaceAll(strings.TrimSpace(args[0]), "_", ""), 10)
	if !ok || limit.Sign() < 0 {
		return nil, fmt.Errorf("cap %q must be a non-negative integer", args[0])
	}
	return &types.Transaction{To: common.HexToAddress(info.Address), Method: bank.MethodSetCap, Amount: limit}, nil
}

// parseAsset accepts an address or the keyword "native".
func parseAsset(raw string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "native") {
		return token.NativeAsset, nil
	}
	return crypto.ParseAddress(raw)
}

// parseAmount accepts base-10 integers with optional _ separators.
func parseAmount(raw string) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	amount, ok := new(big.Int).SetString(cleaned, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be a positive integer", raw)
	}
	return amount, nil
}
