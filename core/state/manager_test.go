package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stablebank/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	return NewManager(db), db
}

func TestKVRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	type record struct {
		Name  string
		Count uint64
	}
	if err := manager.KVPut([]byte("rec"), record{Name: "alpha", Count: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out record
	ok, err := manager.KVGet([]byte("rec"), &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Name != "alpha" || out.Count != 7 {
		t.Fatalf("unexpected record %+v", out)
	}
	if err := manager.KVDelete([]byte("rec")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = manager.KVGet([]byte("rec"), &out)
	if err != nil || ok {
		t.Fatalf("expected deleted key, ok=%v err=%v", ok, err)
	}
}

func TestKVAppendIgnoresDuplicates(t *testing.T) {
	manager, _ := newTestManager(t)
	for _, value := range [][]byte{[]byte("a"), []byte("b"), []byte("a")} {
		if err := manager.KVAppend([]byte("list"), value); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := manager.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	var empty [][]byte
	if err := manager.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("get missing list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestSnapshotRevert(t *testing.T) {
	manager, _ := newTestManager(t)
	if err := manager.KVPut([]byte("a"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := manager.Snapshot()
	if err := manager.KVPut([]byte("a"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.KVPut([]byte("b"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	manager.RevertToSnapshot(snap)

	var a uint64
	if ok, err := manager.KVGet([]byte("a"), &a); err != nil || !ok || a != 1 {
		t.Fatalf("expected a=1 after revert, got %d ok=%v err=%v", a, ok, err)
	}
	if ok, _ := manager.KVGet([]byte("b"), nil); ok {
		t.Fatalf("expected b to be reverted")
	}
}

func TestNestedSnapshots(t *testing.T) {
	manager, _ := newTestManager(t)
	outer := manager.Snapshot()
	_ = manager.KVPut([]byte("x"), uint64(1))
	inner := manager.Snapshot()
	_ = manager.KVPut([]byte("x"), uint64(2))
	manager.RevertToSnapshot(inner)

	var x uint64
	if ok, _ := manager.KVGet([]byte("x"), &x); !ok || x != 1 {
		t.Fatalf("expected x=1 after inner revert, got %d", x)
	}
	manager.RevertToSnapshot(outer)
	if ok, _ := manager.KVGet([]byte("x"), nil); ok {
		t.Fatalf("expected x to be absent after outer revert")
	}
}

func TestCommitPersists(t *testing.T) {
	manager, db := newTestManager(t)
	_ = manager.KVPut([]byte("keep"), uint64(9))
	_ = manager.KVPut([]byte("drop"), uint64(1))
	_ = manager.KVDelete([]byte("drop"))
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if manager.Pending() != 0 {
		t.Fatalf("expected no pending writes after commit")
	}
	if db.Len() != 1 {
		t.Fatalf("expected exactly one persisted key, got %d", db.Len())
	}

	reopened := NewManager(db)
	var value uint64
	if ok, err := reopened.KVGet([]byte("keep"), &value); err != nil || !ok || value != 9 {
		t.Fatalf("expected persisted value 9, got %d ok=%v err=%v", value, ok, err)
	}
}

func TestBalancesAndAllowances(t *testing.T) {
	manager, _ := newTestManager(t)
	usdc := common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice := common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bank := common.HexToAddress("0xba4c000000000000000000000000000000000000")

	if err := manager.SetBalance(usdc, alice, big.NewInt(5)); err == nil {
		t.Fatalf("expected unregistered token to be rejected")
	}
	if err := manager.RegisterToken(usdc, "usdc", "USD Coin", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := manager.RegisterToken(usdc, "usdc", "USD Coin", 6); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	meta, err := manager.Token(usdc)
	if err != nil || meta == nil || meta.Symbol != "USDC" || meta.Decimals != 6 {
		t.Fatalf("unexpected metadata %+v err=%v", meta, err)
	}
	if err := manager.SetBalance(usdc, alice, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := manager.SetBalance(usdc, alice, tooLarge); err == nil {
		t.Fatalf("expected 257-bit balance to be rejected")
	}
	if err := manager.SetBalance(usdc, alice, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	balance, err := manager.Balance(usdc, alice)
	if err != nil || balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("unexpected balance %v err=%v", balance, err)
	}
	if err := manager.SetAllowance(usdc, alice, bank, big.NewInt(250)); err != nil {
		t.Fatalf("set allowance: %v", err)
	}
	allowance, err := manager.Allowance(usdc, alice, bank)
	if err != nil || allowance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected allowance %v err=%v", allowance, err)
	}
	if other, _ := manager.Allowance(usdc, bank, alice); other.Sign() != 0 {
		t.Fatalf("allowance must be directional, got %s", other)
	}
}

func TestRoles(t *testing.T) {
	manager, _ := newTestManager(t)
	admin := common.HexToAddress("0xad00000000000000000000000000000000000001")
	other := common.HexToAddress("0xad00000000000000000000000000000000000002")

	if manager.HasRole("bank.admin", admin) {
		t.Fatalf("unexpected role before assignment")
	}
	if err := manager.SetRole("bank.admin", admin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := manager.SetRole("bank.admin", admin); err != nil {
		t.Fatalf("duplicate set role: %v", err)
	}
	members, _ := manager.RoleMembers("bank.admin")
	if len(members) != 1 {
		t.Fatalf("expected one member, got %d", len(members))
	}
	if manager.HasRole("bank.admin", other) {
		t.Fatalf("unexpected role for other")
	}
	if err := manager.RevokeRole("bank.admin", admin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if manager.HasRole("bank.admin", admin) {
		t.Fatalf("role should be revoked")
	}
}

func TestNonces(t *testing.T) {
	manager, _ := newTestManager(t)
	account := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	nonce, err := manager.Nonce(account)
	if err != nil || nonce != 0 {
		t.Fatalf("expected zero nonce, got %d err=%v", nonce, err)
	}
	if err := manager.SetNonce(account, 4); err != nil {
		t.Fatalf("set nonce: %v", err)
	}
	if nonce, _ := manager.Nonce(account); nonce != 4 {
		t.Fatalf("expected nonce 4, got %d", nonce)
	}
}
