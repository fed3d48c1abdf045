package bank

import (
	"github.com/ethereum/go-ethereum/common"
)

var (
	bankPrefix      = []byte("bank/")
	configSuffix    = []byte("/config")
	totalSuffix     = []byte("/total")
	capSuffix       = []byte("/cap")
	balanceInfix    = []byte("/balance/")
	allowedInfix    = []byte("/allowed/")
	accountIndexKey = []byte("/accounts")
)

func bankKey(bank common.Address, parts ...[]byte) []byte {
	size := len(bankPrefix) + common.AddressLength
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, bankPrefix...)
	key = append(key, bank.Bytes()...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}

func configKey(bank common.Address) []byte { return bankKey(bank, configSuffix) }
func totalKey(bank common.Address) []byte  { return bankKey(bank, totalSuffix) }
func capKey(bank common.Address) []byte    { return bankKey(bank, capSuffix) }

func balanceKey(bank, account common.Address) []byte {
	return bankKey(bank, balanceInfix, account.Bytes())
}

func allowedKey(bank, asset common.Address) []byte {
	return bankKey(bank, allowedInfix, asset.Bytes())
}

func accountsKey(bank common.Address) []byte { return bankKey(bank, accountIndexKey) }
