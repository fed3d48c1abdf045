package bank

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablebank/core/events"
	nativecommon "stablebank/native/common"
	"stablebank/native/system/quotas"
	"stablebank/native/token"
)

// ModuleName is the key the engine looks up in its pause view.
const ModuleName = "bank"

// conversionDeadline bounds how long the exchange may honour a conversion.
const conversionDeadline = 300 * time.Second

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// Tokens is the balance ledger holding the bank's custody.
type Tokens interface {
	BalanceOf(asset, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, asset, from, to common.Address, amount *big.Int) error
	Approve(asset, owner, spender common.Address, amount *big.Int) error
	RegisterReceiver(addr common.Address, receiver token.Receiver)
}

// Exchange converts native currency or tokens into the settlement asset.
// outputs[len-1] is the settlement amount delivered to recipient.
type Exchange interface {
	Address() common.Address
	WrappedNative() common.Address
	ConvertNativeToSettlement(ctx context.Context, sender common.Address, value, minOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error)
	ConvertAssetToSettlement(ctx context.Context, sender common.Address, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error)
}

// PairRegistry reports direct pairs. A zero address means no pair.
type PairRegistry interface {
	GetPair(a, b common.Address) (common.Address, error)
}

// Authorizer decides who may change configuration.
type Authorizer interface {
	IsAuthorized(caller common.Address) bool
}

type granter interface {
	Grant(addr common.Address) error
}

// Config carries the construction parameters of a bank instance.
type Config struct {
	Address    common.Address
	Admin      common.Address
	Settlement common.Address
	Exchange   Exchange
	Pairs      PairRegistry
	InitialCap *big.Int
}

type configRecord struct {
	Admin      common.Address
	Settlement common.Address
	Exchange   common.Address
	Pairs      common.Address
}

// Engine is the custodial ledger. It owns per-account settlement balances,
// the running total, the cap and the asset allow-list.
//
// Engine is not safe for concurrent use; callers serialise transactions.
type Engine struct {
	address    common.Address
	admin      common.Address
	settlement common.Address
	exchange   Exchange
	pairs      PairRegistry

	state   engineState
	tokens  Tokens
	auth    Authorizer
	emitter events.Emitter
	pauses  nativecommon.PauseView
	quotas  *quotas.Store
	quota   nativecommon.Quota
	nowFn   func() time.Time

	lock            nativecommon.Lock
	pending         []events.Event
	receivingNative bool
}

// NewEngine validates the construction parameters, registers the bank's
// receive hook and, on first use of the address, writes the initial cap, the
// settlement allow-list entry and the admin grant.
func NewEngine(cfg Config, state engineState, tokens Tokens, auth Authorizer) (*Engine, error) {
	if state == nil || tokens == nil || auth == nil {
		return nil, errNilState
	}
	if cfg.Address == (common.Address{}) || cfg.Admin == (common.Address{}) || cfg.Settlement == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.Exchange == nil || cfg.Pairs == nil || cfg.Exchange.Address() == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := validateCap(cfg.InitialCap); err != nil {
		return nil, err
	}
	e := &Engine{
		address:    cfg.Address,
		admin:      cfg.Admin,
		settlement: cfg.Settlement,
		exchange:   cfg.Exchange,
		pairs:      cfg.Pairs,
		state:      state,
		tokens:     tokens,
		auth:       auth,
		emitter:    events.NoopEmitter{},
		nowFn:      time.Now,
	}
	if err := e.bootstrap(cfg); err != nil {
		return nil, err
	}
	tokens.RegisterReceiver(e.address, e)
	return e, nil
}

func (e *Engine) bootstrap(cfg Config) error {
	var existing configRecord
	ok, err := e.state.KVGet(configKey(e.address), &existing)
	if err != nil {
		return fmt.Errorf("bank: load config: %w", err)
	}
	if ok {
		if existing.Settlement != cfg.Settlement {
			return fmt.Errorf("bank: %s already initialised with settlement %s", e.address.Hex(), existing.Settlement.Hex())
		}
		return nil
	}
	var pairsAddr common.Address
	if addressed, ok := cfg.Pairs.(interface{ Address() common.Address }); ok {
		pairsAddr = addressed.Address()
	}
	record := configRecord{
		Admin:      cfg.Admin,
		Settlement: cfg.Settlement,
		Exchange:   cfg.Exchange.Address(),
		Pairs:      pairsAddr,
	}
	if err := e.state.KVPut(configKey(e.address), record); err != nil {
		return fmt.Errorf("bank: persist config: %w", err)
	}
	if err := e.writeCap(cfg.InitialCap); err != nil {
		return err
	}
	if err := e.writeAllowed(cfg.Settlement, true); err != nil {
		return err
	}
	if g, ok := e.auth.(granter); ok {
		if err := g.Grant(cfg.Admin); err != nil {
			return fmt.Errorf("bank: grant admin: %w", err)
		}
	}
	return nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetQuota enables per-account deposit limits. Usage is counted in credited
// settlement units.
func (e *Engine) SetQuota(q nativecommon.Quota, store *quotas.Store) {
	if e == nil {
		return
	}
	e.quota = q
	e.quotas = store
}

// SetNowFunc overrides the clock used for deadlines and quota epochs.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) Address() common.Address    { return e.address }
func (e *Engine) Admin() common.Address      { return e.admin }
func (e *Engine) Settlement() common.Address { return e.settlement }

// DepositSettlement pulls amount of the settlement asset from caller, which
// must have approved the bank, and credits it one to one.
func (e *Engine) DepositSettlement(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(func() error {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		return e.depositSettlement(ctx, caller, amount)
	})
}

func (e *Engine) depositSettlement(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.requireAllowed(e.settlement); err != nil {
		return err
	}
	if err := e.checkCap(amount); err != nil {
		return err
	}
	if err := e.tokens.TransferFrom(ctx, e.address, e.settlement, caller, e.address, amount); err != nil {
		return fmt.Errorf("bank: pull settlement: %w", err)
	}
	if err := e.credit(caller, amount); err != nil {
		return err
	}
	e.emit(events.BankDeposit{Account: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositNativeConvert takes value units of native currency from caller,
// converts them through the exchange and credits the settlement output. The
// credited amount is returned. The exchange's reported output is credited
// only when the bank's settlement custody grew by at least that much;
// otherwise the call fails with ErrSettlementShortfall.
func (e *Engine) DepositNativeConvert(ctx context.Context, caller common.Address, value, minOut *big.Int) (*big.Int, error) {
	var credited *big.Int
	err := e.execute(func() error {
		if minOut == nil || minOut.Sign() <= 0 {
			return ErrAmountOutMinZero
		}
		if value == nil || value.Sign() <= 0 {
			return ErrZeroNativeAmount
		}
		if err := e.requireAllowed(e.settlement); err != nil {
			return err
		}
		e.receivingNative = true
		err := e.tokens.Transfer(ctx, token.NativeAsset, caller, e.address, value)
		e.receivingNative = false
		if err != nil {
			return fmt.Errorf("bank: receive native: %w", err)
		}
		path := []common.Address{e.exchange.WrappedNative(), e.settlement}
		out, err := e.convert(func(deadline uint64) ([]*big.Int, error) {
			return e.exchange.ConvertNativeToSettlement(ctx, e.address, value, minOut, path, e.address, deadline)
		})
		if err != nil {
			return err
		}
		if err := e.credit(caller, out); err != nil {
			return err
		}
		e.emit(events.BankConversionDeposit{
			Account:      caller,
			SourceAsset:  token.NativeAsset,
			SourceAmount: new(big.Int).Set(value),
			Credited:     new(big.Int).Set(out),
		})
		credited = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}

// DepositAssetConvert deposits an arbitrary allow-listed asset. The settlement
// asset is credited directly; anything else must have a direct pair with the
// settlement asset and is converted first. Preconditions are evaluated in a
// fixed order: allow-list, asset, amount, minimum output, pair support.
// Converted deposits fail with ErrSettlementShortfall when the exchange
// reports more output than actually reached the bank's custody.
func (e *Engine) DepositAssetConvert(ctx context.Context, caller, asset common.Address, amount, minOut *big.Int) (*big.Int, error) {
	var credited *big.Int
	err := e.execute(func() error {
		if err := e.requireAllowed(asset); err != nil {
			return err
		}
		if asset == (common.Address{}) {
			return ErrUnsupportedToken
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if minOut == nil || minOut.Sign() <= 0 {
			return ErrAmountOutMinZero
		}
		if asset == e.settlement {
			if err := e.depositSettlement(ctx, caller, amount); err != nil {
				return err
			}
			credited = new(big.Int).Set(amount)
			return nil
		}
		supported, err := e.hasDirectPair(asset)
		if err != nil {
			return err
		}
		if !supported {
			return ErrUnsupportedToken
		}
		// The registry is consulted again immediately before funds move.
		if supported, err = e.hasDirectPair(asset); err != nil {
			return err
		} else if !supported {
			return ErrNoDirectPair
		}

		if err := e.tokens.TransferFrom(ctx, e.address, asset, caller, e.address, amount); err != nil {
			return fmt.Errorf("bank: pull asset: %w", err)
		}
		if err := e.tokens.Approve(asset, e.address, e.exchange.Address(), amount); err != nil {
			return fmt.Errorf("bank: approve exchange: %w", err)
		}
		path := []common.Address{asset, e.settlement}
		out, err := e.convert(func(deadline uint64) ([]*big.Int, error) {
			return e.exchange.ConvertAssetToSettlement(ctx, e.address, amount, minOut, path, e.address, deadline)
		})
		if err != nil {
			return err
		}
		if err := e.credit(caller, out); err != nil {
			return err
		}
		e.emit(events.BankConversionDeposit{
			Account:      caller,
			SourceAsset:  asset,
			SourceAmount: new(big.Int).Set(amount),
			Credited:     new(big.Int).Set(out),
		})
		credited = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}

// Withdraw releases amount of the settlement asset to caller. Balance and
// total are written before the outgoing transfer runs the recipient's hook.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.execute(func() error {
		balance, err := e.checkWithdraw(caller, amount)
		if err != nil {
			return err
		}
		if err := e.writeBalance(caller, new(big.Int).Sub(balance, amount)); err != nil {
			return err
		}
		total, err := e.TotalDeposited()
		if err != nil {
			return err
		}
		if total.Cmp(amount) < 0 {
			return ErrTotalDepositedUnderflow
		}
		if err := e.writeTotal(new(big.Int).Sub(total, amount)); err != nil {
			return err
		}
		e.emit(events.BankWithdrawal{Account: caller, Amount: new(big.Int).Set(amount)})

		if err := e.tokens.Transfer(ctx, e.settlement, e.address, caller, amount); err != nil {
			return fmt.Errorf("bank: release settlement: %w", err)
		}
		return nil
	})
}

// PreviewWithdraw evaluates the withdrawal preconditions for account without
// changing state.
func (e *Engine) PreviewWithdraw(account common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, err := e.checkWithdraw(account, amount); err != nil {
		return err
	}
	total, err := e.TotalDeposited()
	if err != nil {
		return err
	}
	if total.Cmp(amount) < 0 {
		return ErrTotalDepositedUnderflow
	}
	return nil
}

func (e *Engine) checkWithdraw(account common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.requireAllowed(e.settlement); err != nil {
		return nil, err
	}
	balance, err := e.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	return balance, nil
}

// SetAssetAllowed overwrites the allow-list entry for asset. Any identity is
// accepted, the zero address included.
func (e *Engine) SetAssetAllowed(caller, asset common.Address, allowed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.auth.IsAuthorized(caller) {
		return ErrNotAuthorized
	}
	if err := e.writeAllowed(asset, allowed); err != nil {
		return err
	}
	e.emit(events.BankAssetAllowed{Asset: asset, Allowed: allowed, Caller: caller})
	return nil
}

// SetCap overwrites the deposit cap. A cap below the current total blocks
// new deposits and leaves existing balances untouched.
func (e *Engine) SetCap(caller common.Address, newCap *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.auth.IsAuthorized(caller) {
		return ErrNotAuthorized
	}
	if err := validateCap(newCap); err != nil {
		return err
	}
	previous, err := e.Cap()
	if err != nil {
		return err
	}
	if err := e.writeCap(newCap); err != nil {
		return err
	}
	e.emit(events.BankCapUpdated{Previous: previous, Cap: new(big.Int).Set(newCap), Caller: caller})
	return nil
}

func (e *Engine) BalanceOf(account common.Address) (*big.Int, error) {
	return e.loadAmount(balanceKey(e.address, account))
}

func (e *Engine) TotalDeposited() (*big.Int, error) {
	return e.loadAmount(totalKey(e.address))
}

func (e *Engine) Cap() (*big.Int, error) {
	return e.loadAmount(capKey(e.address))
}

func (e *Engine) IsAssetAllowed(asset common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	var allowed bool
	if _, err := e.state.KVGet(allowedKey(e.address, asset), &allowed); err != nil {
		return false, fmt.Errorf("bank: load allow-list: %w", err)
	}
	return allowed, nil
}

// Accounts lists every address that has ever been credited.
func (e *Engine) Accounts() ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(accountsKey(e.address), &raw); err != nil {
		return nil, fmt.Errorf("bank: load accounts: %w", err)
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}

// CheckInvariants verifies that the running total equals the sum of all
// balances and that custody covers the total. The cap is not checked because
// SetCap may legitimately lower it below the total.
func (e *Engine) CheckInvariants() error {
	accounts, err := e.Accounts()
	if err != nil {
		return err
	}
	sum := new(big.Int)
	for _, account := range accounts {
		balance, err := e.BalanceOf(account)
		if err != nil {
			return err
		}
		sum.Add(sum, balance)
	}
	total, err := e.TotalDeposited()
	if err != nil {
		return err
	}
	if sum.Cmp(total) != 0 {
		return fmt.Errorf("bank: total deposited %s does not match balances %s", total, sum)
	}
	custody, err := e.tokens.BalanceOf(e.settlement, e.address)
	if err != nil {
		return err
	}
	if custody.Cmp(total) < 0 {
		return fmt.Errorf("bank: custody %s below total deposited %s", custody, total)
	}
	return nil
}

// OnReceive rejects native currency that does not arrive through
// DepositNativeConvert.
func (e *Engine) OnReceive(_ context.Context, asset, _ common.Address, _ *big.Int) error {
	if asset == token.NativeAsset && !e.receivingNative {
		return ErrDirectNativeTransfer
	}
	return nil
}

// execute runs fn as one guarded, atomic step: state and buffered events are
// discarded when fn fails.
func (e *Engine) execute(fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if err := e.lock.Enter(); err != nil {
		return err
	}
	defer e.lock.Exit()

	snapshot := e.state.Snapshot()
	e.pending = e.pending[:0]
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.pending = nil
		return err
	}
	pending := e.pending
	e.pending = nil
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if e.lock.Held() {
		e.pending = append(e.pending, evt)
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) convert(call func(deadline uint64) ([]*big.Int, error)) (*big.Int, error) {
	before, err := e.tokens.BalanceOf(e.settlement, e.address)
	if err != nil {
		return nil, err
	}
	deadline := uint64(e.nowFn().Add(conversionDeadline).Unix())
	outputs, err := call(deadline)
	if err != nil {
		return nil, fmt.Errorf("bank: conversion failed: %w", err)
	}
	if len(outputs) < 2 {
		return nil, ErrMalformedOutputs
	}
	out := outputs[len(outputs)-1]
	if out == nil || out.Sign() <= 0 {
		return nil, ErrZeroSettlementOut
	}
	after, err := e.tokens.BalanceOf(e.settlement, e.address)
	if err != nil {
		return nil, err
	}
	if new(big.Int).Sub(after, before).Cmp(out) < 0 {
		return nil, ErrSettlementShortfall
	}
	return new(big.Int).Set(out), nil
}

func (e *Engine) hasDirectPair(asset common.Address) (bool, error) {
	pair, err := e.pairs.GetPair(asset, e.settlement)
	if err != nil {
		return false, fmt.Errorf("bank: pair lookup: %w", err)
	}
	return pair != (common.Address{}), nil
}

func (e *Engine) requireAllowed(asset common.Address) error {
	allowed, err := e.IsAssetAllowed(asset)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrTokenNotAllowed
	}
	return nil
}

func (e *Engine) checkCap(amount *big.Int) error {
	total, err := e.TotalDeposited()
	if err != nil {
		return err
	}
	limit, err := e.Cap()
	if err != nil {
		return err
	}
	if new(big.Int).Add(total, amount).Cmp(limit) > 0 {
		return ErrCapExceeded
	}
	return nil
}

// credit applies the cap check, the optional quota and then increments the
// total and the account balance.
func (e *Engine) credit(account common.Address, amount *big.Int) error {
	if err := e.checkCap(amount); err != nil {
		return err
	}
	if err := e.consumeQuota(account, amount); err != nil {
		return err
	}
	total, err := e.TotalDeposited()
	if err != nil {
		return err
	}
	if err := e.writeTotal(new(big.Int).Add(total, amount)); err != nil {
		return err
	}
	balance, err := e.BalanceOf(account)
	if err != nil {
		return err
	}
	if err := e.writeBalance(account, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	if err := e.state.KVAppend(accountsKey(e.address), account.Bytes()); err != nil {
		return fmt.Errorf("bank: index account: %w", err)
	}
	return nil
}

func (e *Engine) consumeQuota(account common.Address, amount *big.Int) error {
	if e.quotas == nil || !e.quota.Enabled() {
		return nil
	}
	var used uint64
	if e.quota.MaxAmountPerEpoch > 0 {
		if !amount.IsUint64() {
			return nativecommon.ErrQuotaAmountExceeded
		}
		used = amount.Uint64()
	}
	epoch := e.quota.EpochAt(e.nowFn().Unix())
	if _, err := e.quotas.Consume(ModuleName, e.quota, epoch, account, 1, used); err != nil {
		return err
	}
	return nil
}

func (e *Engine) loadAmount(key []byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := e.state.KVGet(key, amount)
	if err != nil {
		return nil, fmt.Errorf("bank: load amount: %w", err)
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (e *Engine) writeAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, amount)
}

func (e *Engine) writeBalance(account common.Address, amount *big.Int) error {
	if err := e.writeAmount(balanceKey(e.address, account), amount); err != nil {
		return fmt.Errorf("bank: write balance: %w", err)
	}
	return nil
}

func (e *Engine) writeTotal(amount *big.Int) error {
	if err := e.writeAmount(totalKey(e.address), amount); err != nil {
		return fmt.Errorf("bank: write total: %w", err)
	}
	return nil
}

func (e *Engine) writeCap(amount *big.Int) error {
	if err := e.writeAmount(capKey(e.address), amount); err != nil {
		return fmt.Errorf("bank: write cap: %w", err)
	}
	return nil
}

func (e *Engine) writeAllowed(asset common.Address, allowed bool) error {
	if err := e.state.KVPut(allowedKey(e.address, asset), allowed); err != nil {
		return fmt.Errorf("bank: write allow-list: %w", err)
	}
	return nil
}

func validateCap(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidCap
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrInvalidCap
	}
	return nil
}
