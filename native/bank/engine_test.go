package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/events"
	"stablebank/core/state"
	"stablebank/native/access"
	nativecommon "stablebank/native/common"
	"stablebank/native/exchange"
	"stablebank/native/system/quotas"
	"stablebank/native/token"
	"stablebank/storage"
)

var (
	bankAddr   = common.HexToAddress("0x000000000000000000000000000000000000ba01")
	routerAddr = common.HexToAddress("0x000000000000000000000000000000000000e001")
	admin      = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	mallory    = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	lp         = common.HexToAddress("0x0000000000000000000000000000000000001111")

	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	dai  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	junk = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

var testNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	manager  *state.Manager
	ledger   *token.Ledger
	factory  *exchange.Factory
	router   *exchange.Router
	roles    *access.Roles
	engine   *Engine
	recorder *events.Recorder
}

type fixtureOptions struct {
	exchange func(f *fixture) Exchange
	pairs    func(f *fixture) PairRegistry
	cap      int64
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	for _, tok := range []struct {
		addr     common.Address
		symbol   string
		decimals uint8
	}{
		{usdc, "USDC", 6},
		{weth, "WETH", 18},
		{dai, "DAI", 18},
		{junk, "JUNK", 18},
		{token.NativeAsset, "ETH", 18},
	} {
		if err := manager.RegisterToken(tok.addr, tok.symbol, tok.symbol, tok.decimals); err != nil {
			t.Fatalf("register %s: %v", tok.symbol, err)
		}
	}
	ledger := token.NewLedger(manager)
	factory := exchange.NewFactory(manager)
	router := exchange.NewRouter(routerAddr, weth, factory, ledger)
	router.SetNowFunc(func() time.Time { return testNow })

	f := &fixture{manager: manager, ledger: ledger, factory: factory, router: router}
	f.mint(t, usdc, lp, 2_000_000)
	f.mint(t, weth, lp, 1_000)
	f.mint(t, dai, lp, 1_000_000)
	if _, err := router.AddLiquidity(context.Background(), lp, weth, usdc, big.NewInt(1_000), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed weth pool: %v", err)
	}
	if _, err := router.AddLiquidity(context.Background(), lp, dai, usdc, big.NewInt(1_000_000), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed dai pool: %v", err)
	}

	cfg := Config{
		Address:    bankAddr,
		Admin:      admin,
		Settlement: usdc,
		Exchange:   router,
		Pairs:      factory,
		InitialCap: big.NewInt(1_000_000),
	}
	if opts.exchange != nil {
		cfg.Exchange = opts.exchange(f)
	}
	if opts.pairs != nil {
		cfg.Pairs = opts.pairs(f)
	}
	if opts.cap != 0 {
		cfg.InitialCap = big.NewInt(opts.cap)
	}
	f.roles = access.NewRoles(manager, access.RoleBankAdmin)
	engine, err := NewEngine(cfg, manager, ledger, f.roles)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow })
	f.recorder = &events.Recorder{}
	engine.SetEmitter(f.recorder)
	f.engine = engine
	return f
}

func (f *fixture) mint(t *testing.T, asset, to common.Address, amount int64) {
	t.Helper()
	if err := f.ledger.Mint(asset, to, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

// fundAndApprove gives account amount of asset and approves the bank for it.
func (f *fixture) fundAndApprove(t *testing.T, asset, account common.Address, amount int64) {
	t.Helper()
	f.mint(t, asset, account, amount)
	if err := f.ledger.Approve(asset, account, bankAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) tokenBalance(t *testing.T, asset, account common.Address) *big.Int {
	t.Helper()
	balance, err := f.ledger.BalanceOf(asset, account)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return balance
}

func (f *fixture) requireLedger(t *testing.T, account common.Address, balance, total int64) {
	t.Helper()
	got, err := f.engine.BalanceOf(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Int64() != balance {
		t.Fatalf("expected balance %d, got %s", balance, got)
	}
	gotTotal, err := f.engine.TotalDeposited()
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if gotTotal.Int64() != total {
		t.Fatalf("expected total %d, got %s", total, gotTotal)
	}
	if err := f.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger(manager)
	factory := exchange.NewFactory(manager)
	router := exchange.NewRouter(routerAddr, weth, factory, ledger)
	roles := access.NewRoles(manager, access.RoleBankAdmin)
	valid := Config{Address: bankAddr, Admin: admin, Settlement: usdc, Exchange: router, Pairs: factory, InitialCap: big.NewInt(10)}

	cases := map[string]func(*Config){
		"zero admin":      func(c *Config) { c.Admin = common.Address{} },
		"zero settlement": func(c *Config) { c.Settlement = common.Address{} },
		"nil exchange":    func(c *Config) { c.Exchange = nil },
		"nil pairs":       func(c *Config) { c.Pairs = nil },
		"zero router":     func(c *Config) { c.Exchange = exchange.NewRouter(common.Address{}, weth, factory, ledger) },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if _, err := NewEngine(cfg, manager, ledger, roles); !errors.Is(err, ErrZeroAddress) {
			t.Fatalf("%s: expected ErrZeroAddress, got %v", name, err)
		}
	}
	cfg := valid
	cfg.InitialCap = big.NewInt(-1)
	if _, err := NewEngine(cfg, manager, ledger, roles); !errors.Is(err, ErrInvalidCap) {
		t.Fatalf("expected ErrInvalidCap, got %v", err)
	}

	engine, err := NewEngine(valid, manager, ledger, roles)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if !roles.IsAuthorized(admin) {
		t.Fatalf("expected admin to be granted the bank role")
	}
	allowed, err := engine.IsAssetAllowed(usdc)
	if err != nil || !allowed {
		t.Fatalf("expected settlement asset allowed at construction, got %v %v", allowed, err)
	}
	limit, err := engine.Cap()
	if err != nil || limit.Int64() != 10 {
		t.Fatalf("expected initial cap 10, got %v %v", limit, err)
	}

	// Reopening the same address keeps the stored configuration.
	if err := engine.SetCap(admin, big.NewInt(99)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	reopened, err := NewEngine(valid, manager, ledger, roles)
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}
	if limit, _ := reopened.Cap(); limit.Int64() != 99 {
		t.Fatalf("expected reopened cap 99, got %s", limit)
	}
	other := valid
	other.Settlement = dai
	if _, err := NewEngine(other, manager, ledger, roles); err == nil {
		t.Fatalf("expected settlement mismatch to fail")
	}
}

func TestDepositAndWithdrawConserveValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 100)

	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.requireLedger(t, alice, 100, 100)
	if got := f.tokenBalance(t, usdc, bankAddr); got.Int64() != 100 {
		t.Fatalf("expected custody 100, got %s", got)
	}

	if err := f.engine.Withdraw(ctx, alice, big.NewInt(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	f.requireLedger(t, alice, 60, 60)
	if got := f.tokenBalance(t, usdc, alice); got.Int64() != 40 {
		t.Fatalf("expected alice to receive exactly 40, got %s", got)
	}

	recorded := f.recorder.Events()
	if len(recorded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recorded))
	}
	if recorded[0].EventType() != events.TypeBankDeposit || recorded[1].EventType() != events.TypeBankWithdrawal {
		t.Fatalf("unexpected events %s, %s", recorded[0].EventType(), recorded[1].EventType())
	}
	if attrs := recorded[1].Event().Attributes; attrs["amount"] != "40" {
		t.Fatalf("unexpected withdrawal attributes %+v", attrs)
	}

	if err := f.engine.Withdraw(ctx, alice, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := f.engine.Withdraw(ctx, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	f.requireLedger(t, alice, 60, 60)
}

func TestWithdrawRejectsTotalUnderflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 100)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Corrupt the aggregate so it sits below alice's balance.
	if err := f.engine.writeTotal(big.NewInt(30)); err != nil {
		t.Fatalf("write total: %v", err)
	}
	f.recorder.Reset()

	if err := f.engine.Withdraw(ctx, alice, big.NewInt(40)); !errors.Is(err, ErrTotalDepositedUnderflow) {
		t.Fatalf("expected ErrTotalDepositedUnderflow, got %v", err)
	}
	balance, err := f.engine.BalanceOf(alice)
	if err != nil || balance.Int64() != 100 {
		t.Fatalf("expected balance 100 kept, got %v (%v)", balance, err)
	}
	total, err := f.engine.TotalDeposited()
	if err != nil || total.Int64() != 30 {
		t.Fatalf("expected total 30 kept, got %v (%v)", total, err)
	}
	if got := f.tokenBalance(t, usdc, bankAddr); got.Int64() != 100 {
		t.Fatalf("expected custody 100, got %s", got)
	}
	if got := f.tokenBalance(t, usdc, alice); got.Sign() != 0 {
		t.Fatalf("expected nothing released, got %s", got)
	}
	if n := len(f.recorder.Events()); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

func TestDepositRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.mint(t, usdc, alice, 10)
	if err := f.engine.DepositSettlement(context.Background(), alice, big.NewInt(10)); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	f.requireLedger(t, alice, 0, 0)
}

func TestCapBoundary(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{cap: 1_000})
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 2_000)

	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(400)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(600)); err != nil {
		t.Fatalf("deposit filling cap: %v", err)
	}
	f.requireLedger(t, alice, 1_000, 1_000)

	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(1)); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	f.requireLedger(t, alice, 1_000, 1_000)
	if got := f.tokenBalance(t, usdc, alice); got.Int64() != 1_000 {
		t.Fatalf("failed deposit must not pull funds, alice holds %s", got)
	}
	if n := len(f.recorder.Events()); n != 2 {
		t.Fatalf("failed deposit must not emit, got %d events", n)
	}
}

func TestLoweringCapBelowTotalFreezesDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 500)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.SetCap(admin, big.NewInt(100)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(1)); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	if err := f.engine.Withdraw(ctx, alice, big.NewInt(250)); err != nil {
		t.Fatalf("withdraw below lowered cap: %v", err)
	}
	f.requireLedger(t, alice, 50, 50)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(50)); err != nil {
		t.Fatalf("deposit up to lowered cap: %v", err)
	}
	f.requireLedger(t, alice, 100, 100)
}

func TestWithdrawRejectsReentrancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, mallory, 200)
	if err := f.engine.DepositSettlement(ctx, mallory, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	var (
		calls      int
		withdrawal error
		deposit    error
		preview    error
	)
	f.ledger.RegisterReceiver(mallory, token.ReceiverFunc(func(ctx context.Context, asset, _ common.Address, amount *big.Int) error {
		if asset != usdc {
			return nil
		}
		calls++
		withdrawal = f.engine.Withdraw(ctx, mallory, amount)
		deposit = f.engine.DepositSettlement(ctx, mallory, big.NewInt(1))
		preview = f.engine.PreviewWithdraw(mallory, amount)
		return nil
	}))

	if err := f.engine.Withdraw(ctx, mallory, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the hook to run once, ran %d times", calls)
	}
	if !errors.Is(withdrawal, ErrReentrantCall) {
		t.Fatalf("expected nested withdrawal to hit the guard, got %v", withdrawal)
	}
	if !errors.Is(deposit, ErrReentrantCall) {
		t.Fatalf("expected nested deposit to hit the guard, got %v", deposit)
	}
	if !errors.Is(preview, ErrInsufficientBalance) {
		t.Fatalf("expected balance to be debited before the transfer, got %v", preview)
	}
	f.requireLedger(t, mallory, 0, 0)
	if got := f.tokenBalance(t, usdc, mallory); got.Int64() != 200 {
		t.Fatalf("expected mallory to hold exactly 200, got %s", got)
	}
	if got := f.tokenBalance(t, usdc, bankAddr); got.Sign() != 0 {
		t.Fatalf("expected empty custody, got %s", got)
	}
}

func TestWithdrawRollsBackWhenRecipientRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, mallory, 100)
	if err := f.engine.DepositSettlement(ctx, mallory, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.recorder.Reset()
	rejected := errors.New("recipient rejected")
	f.ledger.RegisterReceiver(mallory, token.ReceiverFunc(func(context.Context, common.Address, common.Address, *big.Int) error {
		return rejected
	}))
	if err := f.engine.Withdraw(ctx, mallory, big.NewInt(100)); !errors.Is(err, rejected) {
		t.Fatalf("expected recipient error, got %v", err)
	}
	f.requireLedger(t, mallory, 100, 100)
	if n := len(f.recorder.Events()); n != 0 {
		t.Fatalf("rolled back withdrawal must not emit, got %d events", n)
	}
	// The guard is released on the failure path.
	f.ledger.RegisterReceiver(mallory, nil)
	if err := f.engine.Withdraw(ctx, mallory, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw after rollback: %v", err)
	}
}

func TestAllowListGatesDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 100)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.SetAssetAllowed(admin, usdc, false); err != nil {
		t.Fatalf("disallow: %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(10)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected deposit ErrTokenNotAllowed, got %v", err)
	}
	if err := f.engine.Withdraw(ctx, alice, big.NewInt(10)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected withdraw ErrTokenNotAllowed, got %v", err)
	}
	if _, err := f.engine.DepositNativeConvert(ctx, alice, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected native deposit ErrTokenNotAllowed, got %v", err)
	}

	if err := f.engine.SetAssetAllowed(admin, usdc, true); err != nil {
		t.Fatalf("re-allow: %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit after re-allow: %v", err)
	}
	if err := f.engine.Withdraw(ctx, alice, big.NewInt(10)); err != nil {
		t.Fatalf("withdraw after re-allow: %v", err)
	}
	f.requireLedger(t, alice, 50, 50)
}

func TestConfigurationRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetAssetAllowed(alice, dai, true); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.engine.SetCap(alice, big.NewInt(1)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if allowed, _ := f.engine.IsAssetAllowed(dai); allowed {
		t.Fatalf("unauthorized call must not change the allow-list")
	}

	if err := f.engine.SetAssetAllowed(admin, common.Address{}, true); err != nil {
		t.Fatalf("zero asset may be configured: %v", err)
	}
	if err := f.engine.SetCap(admin, big.NewInt(5)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	if err := f.engine.SetCap(admin, new(big.Int).Lsh(big.NewInt(1), 256)); !errors.Is(err, ErrInvalidCap) {
		t.Fatalf("expected ErrInvalidCap, got %v", err)
	}
	recorded := f.recorder.Events()
	if len(recorded) != 2 {
		t.Fatalf("expected 2 config events, got %d", len(recorded))
	}
	capEvent := recorded[1].Event()
	if capEvent.Type != events.TypeBankCapUpdated || capEvent.Attributes["previous"] != "1000000" || capEvent.Attributes["cap"] != "5" {
		t.Fatalf("unexpected cap event %+v", capEvent)
	}

	if err := f.roles.Grant(alice); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.engine.SetAssetAllowed(alice, dai, true); err != nil {
		t.Fatalf("granted caller should be authorized: %v", err)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndApprove(t, usdc, alice, 10)
	f.engine.SetPauses(nativecommon.Pauses{ModuleName: true})
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(10)); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := f.engine.Withdraw(ctx, alice, big.NewInt(10)); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.BalanceOf(alice); err != nil {
		t.Fatalf("views must stay available while paused: %v", err)
	}
	f.engine.SetPauses(nil)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(10)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestDepositQuotaPerEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := testNow
	f.engine.SetNowFunc(func() time.Time { return now })
	f.engine.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: 1, MaxAmountPerEpoch: 100, EpochSeconds: 60}, quotas.NewStore(f.manager))
	f.fundAndApprove(t, usdc, alice, 1_000)

	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(101)); !errors.Is(err, nativecommon.ErrQuotaAmountExceeded) {
		t.Fatalf("expected ErrQuotaAmountExceeded, got %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(1)); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	now = now.Add(time.Minute)
	if err := f.engine.DepositSettlement(ctx, alice, big.NewInt(1)); err != nil {
		t.Fatalf("deposit in next epoch: %v", err)
	}
	f.requireLedger(t, alice, 101, 101)
}
