package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/events"
)

// NativeAsset is the placeholder identity used for the chain's native
// currency. Native balances live in the same ledger as token balances.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrUnknownAsset          = errors.New("token: asset not registered")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	errNilState              = errors.New("token: state not configured")
)

type ledgerState interface {
	TokenExists(asset common.Address) bool
	Balance(asset, account common.Address) (*big.Int, error)
	SetBalance(asset, account common.Address, amount *big.Int) error
	Allowance(asset, owner, spender common.Address) (*big.Int, error)
	SetAllowance(asset, owner, spender common.Address, amount *big.Int) error
}

// Receiver is invoked after funds have been credited to a registered address.
// Returning an error fails the transfer that triggered it.
type Receiver interface {
	OnReceive(ctx context.Context, asset, from common.Address, amount *big.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, asset, from common.Address, amount *big.Int) error

// OnReceive implements Receiver.
func (f ReceiverFunc) OnReceive(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	return f(ctx, asset, from, amount)
}

// Ledger moves fungible balances, native currency included, and dispatches
// receive hooks for addresses that registered one.
type Ledger struct {
	state     ledgerState
	emitter   events.Emitter
	receivers map[common.Address]Receiver
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{
		state:     state,
		emitter:   events.NoopEmitter{},
		receivers: make(map[common.Address]Receiver),
	}
}

// SetEmitter configures the event emitter used for transfer notifications.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// RegisterReceiver installs the hook invoked when addr is credited. A nil
// receiver removes any existing hook.
func (l *Ledger) RegisterReceiver(addr common.Address, receiver Receiver) {
	if receiver == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = receiver
}

func (l *Ledger) BalanceOf(asset, account common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Balance(asset, account)
}

func (l *Ledger) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Allowance(asset, owner, spender)
}

// Approve overwrites the amount spender may move out of owner's balance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if !l.state.TokenExists(asset) {
		return ErrUnknownAsset
	}
	if err := l.state.SetAllowance(asset, owner, spender, amount); err != nil {
		return fmt.Errorf("token: approve: %w", err)
	}
	l.emitter.Emit(events.Approval{Asset: asset, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount of asset from one account to another and then runs
// the recipient's receive hook, if any.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := l.move(asset, from, to, amount); err != nil {
		return err
	}
	return l.notify(ctx, asset, from, to, amount)
}

// TransferFrom moves funds on behalf of from, consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, asset, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.state.Allowance(asset, from, spender)
	if err != nil {
		return fmt.Errorf("token: load allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.state.SetAllowance(asset, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
		return fmt.Errorf("token: update allowance: %w", err)
	}
	return l.Transfer(ctx, asset, from, to, amount)
}

// Mint credits newly issued units. It is used by genesis and by the wrapped
// native contract; it never runs receive hooks.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.state.TokenExists(asset) {
		return ErrUnknownAsset
	}
	balance, err := l.state.Balance(asset, to)
	if err != nil {
		return fmt.Errorf("token: load balance: %w", err)
	}
	if err := l.state.SetBalance(asset, to, new(big.Int).Add(balance, amount)); err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	l.emitter.Emit(events.Transfer{Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) move(asset, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !l.state.TokenExists(asset) {
		return ErrUnknownAsset
	}
	fromBalance, err := l.state.Balance(asset, from)
	if err != nil {
		return fmt.Errorf("token: load balance: %w", err)
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.SetBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return fmt.Errorf("token: debit: %w", err)
	}
	toBalance, err := l.state.Balance(asset, to)
	if err != nil {
		return fmt.Errorf("token: load balance: %w", err)
	}
	if err := l.state.SetBalance(asset, to, new(big.Int).Add(toBalance, amount)); err != nil {
		return fmt.Errorf("token: credit: %w", err)
	}
	l.emitter.Emit(events.Transfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) notify(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	receiver, ok := l.receivers[to]
	if !ok {
		return nil
	}
	return receiver.OnReceive(ctx, asset, from, new(big.Int).Set(amount))
}
