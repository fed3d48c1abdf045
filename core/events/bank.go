package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/types"
)

const (
	// TypeBankDeposit is emitted when settlement asset is deposited directly.
	TypeBankDeposit = "bank.deposit"
	// TypeBankConversionDeposit is emitted when a non-settlement input has been
	// converted and credited.
	TypeBankConversionDeposit = "bank.deposit.converted"
	// TypeBankWithdrawal is emitted when settlement asset leaves custody.
	TypeBankWithdrawal = "bank.withdrawal"
	// TypeBankAssetAllowed is emitted whenever an allow-list entry is written.
	TypeBankAssetAllowed = "bank.asset_allowed"
	// TypeBankCapUpdated is emitted whenever the deposit cap is overwritten.
	TypeBankCapUpdated = "bank.cap_updated"
)

type BankDeposit struct {
	Account common.Address
	Amount  *big.Int
}

func (BankDeposit) EventType() string { return TypeBankDeposit }

func (e BankDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeBankDeposit,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// BankConversionDeposit records the source side and the settlement amount
// credited for a converted deposit.
type BankConversionDeposit struct {
	Account      common.Address
	SourceAsset  common.Address
	SourceAmount *big.Int
	Credited     *big.Int
}

func (BankConversionDeposit) EventType() string { return TypeBankConversionDeposit }

func (e BankConversionDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeBankConversionDeposit,
		Attributes: map[string]string{
			"account":      formatAddress(e.Account),
			"sourceAsset":  formatAddress(e.SourceAsset),
			"sourceAmount": formatAmount(e.SourceAmount),
			"credited":     formatAmount(e.Credited),
		},
	}
}

type BankWithdrawal struct {
	Account common.Address
	Amount  *big.Int
}

func (BankWithdrawal) EventType() string { return TypeBankWithdrawal }

func (e BankWithdrawal) Event() *types.Event {
	return &types.Event{
		Type: TypeBankWithdrawal,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type BankAssetAllowed struct {
	Asset   common.Address
	Allowed bool
	Caller  common.Address
}

func (BankAssetAllowed) EventType() string { return TypeBankAssetAllowed }

func (e BankAssetAllowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBankAssetAllowed,
		Attributes: map[string]string{
			"asset":   formatAddress(e.Asset),
			"allowed": strconv.FormatBool(e.Allowed),
			"caller":  formatAddress(e.Caller),
		},
	}
}

type BankCapUpdated struct {
	Previous *big.Int
	Cap      *big.Int
	Caller   common.Address
}

func (BankCapUpdated) EventType() string { return TypeBankCapUpdated }

func (e BankCapUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBankCapUpdated,
		Attributes: map[string]string{
			"previous": formatAmount(e.Previous),
			"cap":      formatAmount(e.Cap),
			"caller":   formatAddress(e.Caller),
		},
	}
}
