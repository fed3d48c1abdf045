package genesis

import (
	"context"
	"fmt"

	"stablebank/core/state"
	"stablebank/native/access"
	"stablebank/native/bank"
	nativecommon "stablebank/native/common"
	"stablebank/native/exchange"
	"stablebank/native/system/quotas"
	"stablebank/native/token"
	"stablebank/storage"
)

var chainIDKey = []byte("genesis/chain-id")

// World bundles every component operating on one state manager.
type World struct {
	ChainID uint64
	State   *state.Manager
	Tokens  *token.Ledger
	Factory *exchange.Factory
	Router  *exchange.Router
	Roles   *access.Roles
	Bank    *bank.Engine
}

// Open wires the components over db. The genesis allocation is applied and
// committed only when db has not been initialised before; reopening an
// existing database verifies the chain id.
func Open(spec *Spec, db storage.Database) (*World, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	manager := state.NewManager(db)

	var storedChainID uint64
	initialised, err := manager.KVGet(chainIDKey, &storedChainID)
	if err != nil {
		return nil, fmt.Errorf("load chain id: %w", err)
	}
	if initialised && storedChainID != spec.ChainID {
		return nil, fmt.Errorf("database belongs to chain %d, genesis declares %d", storedChainID, spec.ChainID)
	}

	world := &World{ChainID: spec.ChainID, State: manager}
	world.Tokens = token.NewLedger(manager)
	world.Factory = exchange.NewFactory(manager)
	world.Router = exchange.NewRouter(spec.Exchange.router, spec.Exchange.wrapped, world.Factory, world.Tokens)
	world.Roles = access.NewRoles(manager, access.RoleBankAdmin)

	if !initialised {
		if err := seed(spec, world); err != nil {
			manager.Discard()
			return nil, err
		}
	}

	engine, err := bank.NewEngine(bank.Config{
		Address:    spec.Bank.address,
		Admin:      spec.Bank.admin,
		Settlement: spec.Bank.settlement,
		Exchange:   world.Router,
		Pairs:      world.Factory,
		InitialCap: spec.Bank.cap,
	}, manager, world.Tokens, world.Roles)
	if err != nil {
		manager.Discard()
		return nil, fmt.Errorf("construct bank: %w", err)
	}
	quota := nativecommon.Quota{
		MaxRequestsPerEpoch: spec.Bank.QuotaMaxRequests,
		MaxAmountPerEpoch:   spec.Bank.QuotaMaxAmount,
		EpochSeconds:        spec.Bank.QuotaEpochSeconds,
	}
	if quota.Enabled() {
		engine.SetQuota(quota, quotas.NewStore(manager))
	}
	world.Bank = engine

	if !initialised {
		for _, asset := range spec.Bank.allowed {
			if err := engine.SetAssetAllowed(spec.Bank.admin, asset, true); err != nil {
				manager.Discard()
				return nil, fmt.Errorf("allow %s: %w", asset.Hex(), err)
			}
		}
		if err := manager.KVPut(chainIDKey, spec.ChainID); err != nil {
			manager.Discard()
			return nil, fmt.Errorf("persist chain id: %w", err)
		}
	}
	if err := manager.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	return world, nil
}

func seed(spec *Spec, world *World) error {
	manager := world.State
	if err := manager.RegisterToken(token.NativeAsset, "NATIVE", "Native currency", 18); err != nil {
		return fmt.Errorf("register native: %w", err)
	}
	for _, t := range spec.Tokens {
		if err := manager.RegisterToken(t.address, t.Symbol, t.Name, t.Decimals); err != nil {
			return fmt.Errorf("register token %q: %w", t.Symbol, err)
		}
	}
	for i, a := range spec.Alloc {
		if err := world.Tokens.Mint(a.asset, a.account, a.amount); err != nil {
			return fmt.Errorf("alloc[%d]: %w", i, err)
		}
	}
	ctx := context.Background()
	for i, p := range spec.Pairs {
		if _, err := world.Router.AddLiquidity(ctx, p.provider, p.assetA, p.assetB, p.amountA, p.amountB); err != nil {
			return fmt.Errorf("pairs[%d]: %w", i, err)
		}
	}
	return nil
}
