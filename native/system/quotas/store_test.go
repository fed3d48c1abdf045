package quotas

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/core/state"
	nativecommon "stablebank/native/common"
	"stablebank/storage"
)

var depositor = common.HexToAddress("0xaa00000000000000000000000000000000000000")

func TestConsumeDeniesWithoutCharging(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	quota := nativecommon.Quota{MaxRequestsPerEpoch: 2, MaxAmountPerEpoch: 100, EpochSeconds: 60}

	if _, err := store.Consume("bank", quota, 7, depositor, 1, 60); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := store.Consume("bank", quota, 7, depositor, 1, 41); !errors.Is(err, nativecommon.ErrQuotaAmountExceeded) {
		t.Fatalf("expected amount quota error, got %v", err)
	}
	usage, err := store.Load("bank", 7, depositor)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if usage.ReqCount != 1 || usage.AmountUsed != 60 {
		t.Fatalf("denied deposit must not be charged, got %+v", usage)
	}
	if _, err := store.Consume("bank", quota, 7, depositor, 1, 40); err != nil {
		t.Fatalf("deposit within remaining allowance: %v", err)
	}
	if _, err := store.Consume("bank", quota, 7, depositor, 1, 0); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request quota error, got %v", err)
	}
}

func TestNewEpochDropsPreviousCounters(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	quota := nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 60}
	other := common.HexToAddress("0xbb00000000000000000000000000000000000000")

	if _, err := store.Consume("bank", quota, 1, depositor, 1, 0); err != nil {
		t.Fatalf("epoch 1: %v", err)
	}
	next, err := store.Consume("bank", quota, 2, other, 1, 0)
	if err != nil {
		t.Fatalf("epoch 2: %v", err)
	}
	if next.EpochID != 2 || next.ReqCount != 1 {
		t.Fatalf("unexpected counters %+v", next)
	}
	stale, err := store.Load("bank", 1, depositor)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if stale.ReqCount != 0 {
		t.Fatalf("expected epoch 1 counters to be pruned, got %+v", stale)
	}
	if _, err := store.Consume("bank", quota, 2, depositor, 1, 0); err != nil {
		t.Fatalf("fresh epoch allowance: %v", err)
	}
}

func TestStoreRequiresAddressAndState(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	if _, err := store.Load("bank", 0, common.Address{}); err == nil {
		t.Fatalf("expected zero address to be rejected")
	}
	var nilStore *Store
	if _, err := nilStore.Load("bank", 0, depositor); !errors.Is(err, errNoState) {
		t.Fatalf("expected nil store to fail, got %v", err)
	}
}
