package bank

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Method names accepted by Call.
const (
	MethodDepositSettlement    = "depositSettlement"
	MethodDepositNativeConvert = "depositNativeConvert"
	MethodDepositAssetConvert  = "depositAssetConvert"
	MethodWithdraw             = "withdraw"
	MethodPreviewWithdraw      = "previewWithdraw"
	MethodSetAssetAllowed      = "setAssetAllowed"
	MethodSetCap               = "setCap"
	MethodBalanceOf            = "balanceOf"
	MethodTotalDeposited       = "totalDeposited"
	MethodCap                  = "cap"
	MethodIsAssetAllowed       = "isAssetAllowed"
)

// Message is a decoded call addressed to the bank. Value carries attached
// native currency.
type Message struct {
	Method  string
	Asset   common.Address
	Account common.Address
	Amount  *big.Int
	MinOut  *big.Int
	Value   *big.Int
	Allowed bool
}

// Result carries the output of a call. Amount is nil for operations without a
// numeric result.
type Result struct {
	Amount  *big.Int
	Allowed bool
}

// Payable reports whether method accepts attached native currency.
func Payable(method string) bool {
	return method == MethodDepositNativeConvert
}

// Call routes msg to the matching operation. A bare native transfer and any
// unrecognised method are rejected before touching state.
func (e *Engine) Call(ctx context.Context, caller common.Address, msg Message) (*Result, error) {
	hasValue := msg.Value != nil && msg.Value.Sign() != 0
	if msg.Method == "" {
		if hasValue {
			return nil, ErrDirectNativeTransfer
		}
		return nil, ErrUnknownOperation
	}
	if hasValue && !Payable(msg.Method) {
		if _, known := methods[msg.Method]; !known {
			return nil, ErrUnknownOperation
		}
		return nil, ErrNonPayable
	}
	handler, ok := methods[msg.Method]
	if !ok {
		return nil, ErrUnknownOperation
	}
	return handler(ctx, e, caller, msg)
}

type handlerFunc func(ctx context.Context, e *Engine, caller common.Address, msg Message) (*Result, error)

var methods = map[string]handlerFunc{
	MethodDepositSettlement: func(ctx context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		if err := e.DepositSettlement(ctx, caller, msg.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: new(big.Int).Set(msg.Amount)}, nil
	},
	MethodDepositNativeConvert: func(ctx context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		credited, err := e.DepositNativeConvert(ctx, caller, msg.Value, msg.MinOut)
		if err != nil {
			return nil, err
		}
		return &Result{Amount: credited}, nil
	},
	MethodDepositAssetConvert: func(ctx context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		credited, err := e.DepositAssetConvert(ctx, caller, msg.Asset, msg.Amount, msg.MinOut)
		if err != nil {
			return nil, err
		}
		return &Result{Amount: credited}, nil
	},
	MethodWithdraw: func(ctx context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		if err := e.Withdraw(ctx, caller, msg.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: new(big.Int).Set(msg.Amount)}, nil
	},
	MethodPreviewWithdraw: func(_ context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		account := msg.Account
		if account == (common.Address{}) {
			account = caller
		}
		if err := e.PreviewWithdraw(account, msg.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: new(big.Int).Set(msg.Amount)}, nil
	},
	MethodSetAssetAllowed: func(_ context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		if err := e.SetAssetAllowed(caller, msg.Asset, msg.Allowed); err != nil {
			return nil, err
		}
		return &Result{Allowed: msg.Allowed}, nil
	},
	MethodSetCap: func(_ context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		if err := e.SetCap(caller, msg.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: new(big.Int).Set(msg.Amount)}, nil
	},
	MethodBalanceOf: func(_ context.Context, e *Engine, caller common.Address, msg Message) (*Result, error) {
		account := msg.Account
		if account == (common.Address{}) {
			account = caller
		}
		balance, err := e.BalanceOf(account)
		if err != nil {
			return nil, err
		}
		return &Result{Amount: balance}, nil
	},
	MethodTotalDeposited: func(_ context.Context, e *Engine, _ common.Address, _ Message) (*Result, error) {
		total, err := e.TotalDeposited()
		if err != nil {
			return nil, err
		}
		return &Result{Amount: total}, nil
	},
	MethodCap: func(_ context.Context, e *Engine, _ common.Address, _ Message) (*Result, error) {
		limit, err := e.Cap()
		if err != nil {
			return nil, err
		}
		return &Result{Amount: limit}, nil
	},
	MethodIsAssetAllowed: func(_ context.Context, e *Engine, _ common.Address, msg Message) (*Result, error) {
		allowed, err := e.IsAssetAllowed(msg.Asset)
		if err != nil {
			return nil, err
		}
		return &Result{Allowed: allowed}, nil
	},
}
