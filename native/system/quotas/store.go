package quotas

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "stablebank/native/common"
)

var errNoState = errors.New("quota: store not initialised")

// StoreState is the slice of the state manager the store relies on.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

type counters struct {
	Requests uint32
	Amount   uint64
}

// Store keeps per-account usage for the active epoch of each module. Counters
// of an epoch are dropped once the first request of a later epoch arrives.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

// Load returns the usage of addr in epoch. Unknown accounts report zero usage.
func (s *Store) Load(module string, epoch uint64, addr common.Address) (nativecommon.QuotaNow, error) {
	if s == nil || s.state == nil {
		return nativecommon.QuotaNow{}, errNoState
	}
	if addr == (common.Address{}) {
		return nativecommon.QuotaNow{}, fmt.Errorf("quota: address required")
	}
	var stored counters
	if _, err := s.state.KVGet(counterKey(module, epoch, addr), &stored); err != nil {
		return nativecommon.QuotaNow{}, fmt.Errorf("quota: load counters: %w", err)
	}
	return nativecommon.QuotaNow{EpochID: epoch, ReqCount: stored.Requests, AmountUsed: stored.Amount}, nil
}

// Consume charges one call of addAmount against the quota. A denied call
// leaves the stored counters unchanged.
func (s *Store) Consume(module string, quota nativecommon.Quota, epoch uint64, addr common.Address, addReq uint32, addAmount uint64) (nativecommon.QuotaNow, error) {
	current, err := s.Load(module, epoch, addr)
	if err != nil {
		return nativecommon.QuotaNow{}, err
	}
	next, err := nativecommon.CheckQuota(quota, epoch, current, addReq, addAmount)
	if err != nil {
		return current, err
	}
	if err := s.rotate(module, epoch); err != nil {
		return current, err
	}
	key := counterKey(module, epoch, addr)
	if current.ReqCount == 0 && current.AmountUsed == 0 {
		if err := s.state.KVAppend(epochMembersKey(module, epoch), addr.Bytes()); err != nil {
			return current, fmt.Errorf("quota: index account: %w", err)
		}
	}
	if err := s.state.KVPut(key, counters{Requests: next.ReqCount, Amount: next.AmountUsed}); err != nil {
		return current, fmt.Errorf("quota: persist counters: %w", err)
	}
	return next, nil
}

func (s *Store) rotate(module string, epoch uint64) error {
	var active uint64
	found, err := s.state.KVGet(activeEpochKey(module), &active)
	if err != nil {
		return fmt.Errorf("quota: load active epoch: %w", err)
	}
	if found && active == epoch {
		return nil
	}
	if found && active < epoch {
		if err := s.prune(module, active); err != nil {
			return err
		}
	}
	if found && active > epoch {
		return nil
	}
	return s.state.KVPut(activeEpochKey(module), epoch)
}

func (s *Store) prune(module string, epoch uint64) error {
	membersKey := epochMembersKey(module, epoch)
	var members [][]byte
	if err := s.state.KVGetList(membersKey, &members); err != nil {
		return fmt.Errorf("quota: load epoch members: %w", err)
	}
	for _, member := range members {
		if err := s.state.KVDelete(counterKey(module, epoch, common.BytesToAddress(member))); err != nil {
			return fmt.Errorf("quota: prune counter: %w", err)
		}
	}
	return s.state.KVDelete(membersKey)
}
