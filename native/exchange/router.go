package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/events"
	"stablebank/native/token"
)

var (
	ErrInvalidAmount         = errors.New("exchange: amount must be positive")
	ErrInvalidPath           = errors.New("exchange: invalid path")
	ErrExpired               = errors.New("exchange: deadline expired")
	ErrInsufficientOutput    = errors.New("exchange: insufficient output amount")
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
	ErrOverflow              = errors.New("exchange: arithmetic overflow")
)

// Tokens is the balance ledger the router settles against.
type Tokens interface {
	BalanceOf(asset, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, asset, from, to common.Address, amount *big.Int) error
	Mint(asset, to common.Address, amount *big.Int) error
}

// Router executes swaps along a path of direct pairs. Native currency is
// wrapped into the wrapped-native token before entering the first pool.
type Router struct {
	address common.Address
	wrapped common.Address
	factory *Factory
	tokens  Tokens
	emitter events.Emitter
	nowFn   func() time.Time
}

func NewRouter(address, wrappedNative common.Address, factory *Factory, tokens Tokens) *Router {
	return &Router{
		address: address,
		wrapped: wrappedNative,
		factory: factory,
		tokens:  tokens,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

func (r *Router) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock used for deadline checks.
func (r *Router) SetNowFunc(now func() time.Time) {
	if now == nil {
		r.nowFn = time.Now
		return
	}
	r.nowFn = now
}

func (r *Router) Address() common.Address       { return r.address }
func (r *Router) WrappedNative() common.Address { return r.wrapped }

// Reserves returns the pool balances for a pair in the requested order.
func (r *Router) Reserves(a, b common.Address) (*big.Int, *big.Int, error) {
	pair, err := r.factory.GetPair(a, b)
	if err != nil {
		return nil, nil, err
	}
	if pair == (common.Address{}) {
		return nil, nil, ErrPairNotFound
	}
	reserveA, err := r.tokens.BalanceOf(a, pair)
	if err != nil {
		return nil, nil, err
	}
	reserveB, err := r.tokens.BalanceOf(b, pair)
	if err != nil {
		return nil, nil, err
	}
	return reserveA, reserveB, nil
}

// GetAmountsOut quotes every hop of path for amountIn.
func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := r.Reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := GetAmountOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// AddLiquidity moves both amounts from provider into the pool for the pair,
// registering the pair first when needed. Pool shares are not tracked.
func (r *Router) AddLiquidity(ctx context.Context, provider, assetA, assetB common.Address, amountA, amountB *big.Int) (common.Address, error) {
	pair, err := r.factory.GetPair(assetA, assetB)
	if err != nil {
		return common.Address{}, err
	}
	if pair == (common.Address{}) {
		if pair, err = r.factory.CreatePair(assetA, assetB); err != nil {
			return common.Address{}, err
		}
	}
	if err := r.tokens.Transfer(ctx, assetA, provider, pair, amountA); err != nil {
		return common.Address{}, fmt.Errorf("exchange: add liquidity: %w", err)
	}
	if err := r.tokens.Transfer(ctx, assetB, provider, pair, amountB); err != nil {
		return common.Address{}, fmt.Errorf("exchange: add liquidity: %w", err)
	}
	return pair, nil
}

// ConvertNativeToSettlement swaps value units of native currency held by
// sender along path, which must start at the wrapped-native token. outputs[last]
// is delivered to recipient.
func (r *Router) ConvertNativeToSettlement(ctx context.Context, sender common.Address, value, minOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error) {
	if len(path) < 2 || path[0] != r.wrapped {
		return nil, ErrInvalidPath
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	amounts, err := r.quote(value, minOut, path)
	if err != nil {
		return nil, err
	}
	if err := r.tokens.Transfer(ctx, token.NativeAsset, sender, r.wrapped, value); err != nil {
		return nil, fmt.Errorf("exchange: collect native: %w", err)
	}
	firstPair := PairAddress(path[0], path[1])
	if err := r.tokens.Mint(r.wrapped, firstPair, value); err != nil {
		return nil, fmt.Errorf("exchange: wrap native: %w", err)
	}
	if err := r.swap(ctx, sender, amounts, path, recipient); err != nil {
		return nil, err
	}
	return amounts, nil
}

// ConvertAssetToSettlement pulls amountIn of path[0] from sender using the
// router's allowance and swaps it along path.
func (r *Router) ConvertAssetToSettlement(ctx context.Context, sender common.Address, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	amounts, err := r.quote(amountIn, minOut, path)
	if err != nil {
		return nil, err
	}
	firstPair := PairAddress(path[0], path[1])
	if err := r.tokens.TransferFrom(ctx, r.address, path[0], sender, firstPair, amountIn); err != nil {
		return nil, fmt.Errorf("exchange: collect input: %w", err)
	}
	if err := r.swap(ctx, sender, amounts, path, recipient); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *Router) checkDeadline(deadline uint64) error {
	now := r.nowFn().Unix()
	if now > 0 && uint64(now) > deadline {
		return ErrExpired
	}
	return nil
}

func (r *Router) quote(amountIn, minOut *big.Int, path []common.Address) ([]*big.Int, error) {
	amounts, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if out.Sign() == 0 || (minOut != nil && out.Cmp(minOut) < 0) {
		return nil, ErrInsufficientOutput
	}
	return amounts, nil
}

// swap assumes the input for the first hop is already in the first pool.
func (r *Router) swap(ctx context.Context, sender common.Address, amounts []*big.Int, path []common.Address, recipient common.Address) error {
	for i := 0; i < len(path)-1; i++ {
		pair := PairAddress(path[i], path[i+1])
		to := recipient
		if i < len(path)-2 {
			to = PairAddress(path[i+1], path[i+2])
		}
		if err := r.tokens.Transfer(ctx, path[i+1], pair, to, amounts[i+1]); err != nil {
			return fmt.Errorf("exchange: swap: %w", err)
		}
		r.emitter.Emit(events.Swap{
			Pair:      pair,
			Sender:    sender,
			AssetIn:   path[i],
			AmountIn:  new(big.Int).Set(amounts[i]),
			AssetOut:  path[i+1],
			AmountOut: new(big.Int).Set(amounts[i+1]),
			Recipient: to,
		})
	}
	return nil
}
