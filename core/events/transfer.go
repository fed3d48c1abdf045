package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/types"
)

const (
	// TypeTransfer is emitted for every fungible balance movement, native
	// currency included.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted when an allowance is written.
	TypeApproval = "token.approval"
	// TypeSwap is emitted by the exchange for every executed conversion.
	TypeSwap = "exchange.swap"
)

type Transfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"asset":  formatAddress(e.Asset),
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

type Approval struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{
		Type: TypeApproval,
		Attributes: map[string]string{
			"asset":   formatAddress(e.Asset),
			"owner":   formatAddress(e.Owner),
			"spender": formatAddress(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type Swap struct {
	Pair      common.Address
	Sender    common.Address
	AssetIn   common.Address
	AmountIn  *big.Int
	AssetOut  common.Address
	AmountOut *big.Int
	Recipient common.Address
}

func (Swap) EventType() string { return TypeSwap }

func (e Swap) Event() *types.Event {
	return &types.Event{
		Type: TypeSwap,
		Attributes: map[string]string{
			"pair":      formatAddress(e.Pair),
			"sender":    formatAddress(e.Sender),
			"assetIn":   formatAddress(e.AssetIn),
			"amountIn":  formatAmount(e.AmountIn),
			"assetOut":  formatAddress(e.AssetOut),
			"amountOut": formatAmount(e.AmountOut),
			"recipient": formatAddress(e.Recipient),
		},
	}
}
