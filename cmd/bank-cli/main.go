package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultAPI     = "http://localhost:7081"
	defaultPassEnv = "BANK_KEY_PASSPHRASE"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	cli := &cli{
		api:    apiEndpoint(),
		stdout: stdout,
		stderr: stderr,
	}
	command, rest := args[0], args[1:]
	handler, ok := commands[command]
	if !ok {
		if command == "help" || command == "-h" || command == "--help" {
			printUsage(stdout)
			return 0
		}
		fmt.Fprintf(stderr, "Error: unknown command %q\n", command)
		printUsage(stderr)
		return 1
	}
	if err := handler(cli, rest); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func apiEndpoint() string {
	if value := strings.TrimSpace(os.Getenv("BANK_API_URL")); value != "" {
		return value
	}
	return defaultAPI
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: bank-cli <command> [flags] [args]

Keys:
  keygen --out <file>                         create an encrypted keystore
  address --key <file>                        print the keystore's address

Queries:
  info                                        bank address, settlement asset, totals
  balance <address>                           deposited balance and next nonce
  token-balance <address> <asset>             raw token balance
  allowed <asset>                             allow-list status
  preview-withdraw <address> <amount>         dry-run a withdrawal
  quote <amountIn> <asset,asset,...>          exchange quote along a path
  tx <hash>                                   journaled transaction

Transactions (all take --key <file>):
  approve <asset> <spender> <amount>
  transfer <asset> <to> <amount>
  send-native <to> <amount>
  deposit <amount>
  deposit-native <value> <minOut>
  deposit-asset <asset> <amount> <minOut>
  withdraw <amount>
  set-allowed <asset> <true|false>
  set-cap <amount>

The daemon URL defaults to `+defaultAPI+` and can be overridden with
BANK_API_URL or --api. Keystore passphrases are read from `+defaultPassEnv+`
or prompted for.`)
}
