package genesis

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"stablebank/native/token"
)

// Spec is the TOML document describing the initial world: tokens, balances,
// liquidity pools, the exchange router and the bank.
type Spec struct {
	ChainID  uint64       `toml:"chainId"`
	Tokens   []TokenSpec  `toml:"tokens"`
	Alloc    []AllocSpec  `toml:"alloc"`
	Pairs    []PairSpec   `toml:"pairs"`
	Exchange ExchangeSpec `toml:"exchange"`
	Bank     BankSpec     `toml:"bank"`
}

type TokenSpec struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Name     string `toml:"name"`
	Decimals uint8  `toml:"decimals"`

	address common.Address
}

// AllocSpec credits Amount of Asset to Account. Asset may be "native".
type AllocSpec struct {
	Account string `toml:"account"`
	Asset   string `toml:"asset"`
	Amount  string `toml:"amount"`

	account common.Address
	asset   common.Address
	amount  *big.Int
}

// PairSpec registers a pool and seeds it from Provider's allocation.
type PairSpec struct {
	AssetA   string `toml:"assetA"`
	AssetB   string `toml:"assetB"`
	AmountA  string `toml:"amountA"`
	AmountB  string `toml:"amountB"`
	Provider string `toml:"provider"`

	assetA   common.Address
	assetB   common.Address
	amountA  *big.Int
	amountB  *big.Int
	provider common.Address
}

type ExchangeSpec struct {
	Router        string `toml:"router"`
	WrappedNative string `toml:"wrappedNative"`

	router  common.Address
	wrapped common.Address
}

type BankSpec struct {
	Address    string   `toml:"address"`
	Admin      string   `toml:"admin"`
	Settlement string   `toml:"settlement"`
	Cap        string   `toml:"cap"`
	Allowed    []string `toml:"allowed"`

	QuotaMaxRequests  uint32 `toml:"quotaMaxRequests"`
	QuotaMaxAmount    uint64 `toml:"quotaMaxAmount"`
	QuotaEpochSeconds uint32 `toml:"quotaEpochSeconds"`

	address    common.Address
	admin      common.Address
	settlement common.Address
	cap        *big.Int
	allowed    []common.Address
}

// LoadSpec decodes and validates a genesis file. Unknown keys are rejected.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	var spec Spec
	meta, err := toml.DecodeFile(path, &spec)
	if err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis spec %q: unknown key %q", path, undecoded[0].String())
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// ParseSpec decodes a genesis document held in memory.
func ParseSpec(data string) (*Spec, error) {
	var spec Spec
	meta, err := toml.Decode(data, &spec)
	if err != nil {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis spec: unknown key %q", undecoded[0].String())
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec: %w", err)
	}
	return &spec, nil
}

// Validate parses every address and amount and checks cross references.
func (s *Spec) Validate() error {
	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be set")
	}
	known := map[common.Address]struct{}{token.NativeAsset: {}}
	for i := range s.Tokens {
		t := &s.Tokens[i]
		addr, err := parseAddress(t.Address)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if strings.TrimSpace(t.Symbol) == "" {
			return fmt.Errorf("tokens[%d]: symbol must be provided", i)
		}
		if _, exists := known[addr]; exists {
			return fmt.Errorf("tokens[%d]: duplicate address %s", i, addr.Hex())
		}
		if strings.TrimSpace(t.Name) == "" {
			t.Name = t.Symbol
		}
		t.address = addr
		known[addr] = struct{}{}
	}
	resolve := func(raw string) (common.Address, error) {
		addr, err := parseAsset(raw)
		if err != nil {
			return common.Address{}, err
		}
		if _, ok := known[addr]; !ok {
			return common.Address{}, fmt.Errorf("asset %s not declared", addr.Hex())
		}
		return addr, nil
	}

	for i := range s.Alloc {
		a := &s.Alloc[i]
		var err error
		if a.account, err = parseAddress(a.Account); err != nil {
			return fmt.Errorf("alloc[%d].account: %w", i, err)
		}
		if a.asset, err = resolve(a.Asset); err != nil {
			return fmt.Errorf("alloc[%d].asset: %w", i, err)
		}
		if a.amount, err = parseAmount(a.Amount); err != nil {
			return fmt.Errorf("alloc[%d].amount: %w", i, err)
		}
		if a.amount.Sign() == 0 {
			return fmt.Errorf("alloc[%d].amount must be positive", i)
		}
	}

	for i := range s.Pairs {
		p := &s.Pairs[i]
		var err error
		if p.assetA, err = resolve(p.AssetA); err != nil {
			return fmt.Errorf("pairs[%d].assetA: %w", i, err)
		}
		if p.assetB, err = resolve(p.AssetB); err != nil {
			return fmt.Errorf("pairs[%d].assetB: %w", i, err)
		}
		if p.assetA == p.assetB {
			return fmt.Errorf("pairs[%d]: assets must differ", i)
		}
		if p.amountA, err = parseAmount(p.AmountA); err != nil {
			return fmt.Errorf("pairs[%d].amountA: %w", i, err)
		}
		if p.amountB, err = parseAmount(p.AmountB); err != nil {
			return fmt.Errorf("pairs[%d].amountB: %w", i, err)
		}
		if p.amountA.Sign() == 0 || p.amountB.Sign() == 0 {
			return fmt.Errorf("pairs[%d]: liquidity amounts must be positive", i)
		}
		if p.provider, err = parseAddress(p.Provider); err != nil {
			return fmt.Errorf("pairs[%d].provider: %w", i, err)
		}
	}

	var err error
	if s.Exchange.router, err = parseAddress(s.Exchange.Router); err != nil {
		return fmt.Errorf("exchange.router: %w", err)
	}
	if s.Exchange.wrapped, err = resolve(s.Exchange.WrappedNative); err != nil {
		return fmt.Errorf("exchange.wrappedNative: %w", err)
	}
	if s.Exchange.wrapped == token.NativeAsset {
		return fmt.Errorf("exchange.wrappedNative must be a token")
	}

	b := &s.Bank
	if b.address, err = parseAddress(b.Address); err != nil {
		return fmt.Errorf("bank.address: %w", err)
	}
	if b.admin, err = parseAddress(b.Admin); err != nil {
		return fmt.Errorf("bank.admin: %w", err)
	}
	if b.settlement, err = resolve(b.Settlement); err != nil {
		return fmt.Errorf("bank.settlement: %w", err)
	}
	if b.cap, err = parseAmount(b.Cap); err != nil {
		return fmt.Errorf("bank.cap: %w", err)
	}
	b.allowed = b.allowed[:0]
	for i, raw := range b.Allowed {
		addr, err := parseAsset(raw)
		if err != nil {
			return fmt.Errorf("bank.allowed[%d]: %w", i, err)
		}
		b.allowed = append(b.allowed, addr)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("address must not be zero")
	}
	return addr, nil
}

func parseAsset(raw string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "native") {
		return token.NativeAsset, nil
	}
	return parseAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
