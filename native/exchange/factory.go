package exchange

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// pair registry.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	ErrIdenticalAssets = errors.New("exchange: identical assets")
	ErrPairExists      = errors.New("exchange: pair exists")
	ErrPairNotFound    = errors.New("exchange: pair not found")
	errNilStorage      = errors.New("exchange: storage not configured")
)

var (
	pairRecordPrefix = []byte("exchange/pair/")
	pairIndexKey     = []byte("exchange/pair/index")
)

// Pair describes a registered constant-product pool. Asset0 always sorts
// before Asset1.
type Pair struct {
	Address common.Address
	Asset0  common.Address
	Asset1  common.Address
}

func sortAssets(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PairAddress derives the deterministic pool address for two assets. The
// result does not depend on argument order.
func PairAddress(a, b common.Address) common.Address {
	asset0, asset1 := sortAssets(a, b)
	hash := ethcrypto.Keccak256([]byte("exchange/pair"), asset0.Bytes(), asset1.Bytes())
	return common.BytesToAddress(hash[12:])
}

func pairRecordKey(a, b common.Address) []byte {
	asset0, asset1 := sortAssets(a, b)
	key := make([]byte, 0, len(pairRecordPrefix)+2*common.AddressLength)
	key = append(key, pairRecordPrefix...)
	key = append(key, asset0.Bytes()...)
	return append(key, asset1.Bytes()...)
}

// Factory is the pair registry.
type Factory struct {
	store Storage
}

func NewFactory(store Storage) *Factory {
	return &Factory{store: store}
}

// GetPair returns the pool address for the two assets, or the zero address
// when no direct pair is registered.
func (f *Factory) GetPair(a, b common.Address) (common.Address, error) {
	pair, ok, err := f.Pair(a, b)
	if err != nil || !ok {
		return common.Address{}, err
	}
	return pair.Address, nil
}

// Pair loads the registered pool for the two assets.
func (f *Factory) Pair(a, b common.Address) (*Pair, bool, error) {
	if f == nil || f.store == nil {
		return nil, false, errNilStorage
	}
	if a == b {
		return nil, false, nil
	}
	var record Pair
	ok, err := f.store.KVGet(pairRecordKey(a, b), &record)
	if err != nil {
		return nil, false, fmt.Errorf("exchange: load pair: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &record, true, nil
}

// CreatePair registers a new pool for the two assets.
func (f *Factory) CreatePair(a, b common.Address) (common.Address, error) {
	if f == nil || f.store == nil {
		return common.Address{}, errNilStorage
	}
	if a == b {
		return common.Address{}, ErrIdenticalAssets
	}
	if a == (common.Address{}) || b == (common.Address{}) {
		return common.Address{}, fmt.Errorf("exchange: zero asset")
	}
	if _, ok, err := f.Pair(a, b); err != nil {
		return common.Address{}, err
	} else if ok {
		return common.Address{}, ErrPairExists
	}
	asset0, asset1 := sortAssets(a, b)
	record := Pair{Address: PairAddress(a, b), Asset0: asset0, Asset1: asset1}
	if err := f.store.KVPut(pairRecordKey(a, b), record); err != nil {
		return common.Address{}, fmt.Errorf("exchange: persist pair: %w", err)
	}
	if err := f.store.KVAppend(pairIndexKey, pairRecordKey(a, b)); err != nil {
		return common.Address{}, fmt.Errorf("exchange: index pair: %w", err)
	}
	return record.Address, nil
}

// Pairs lists every registered pool in creation order.
func (f *Factory) Pairs() ([]Pair, error) {
	if f == nil || f.store == nil {
		return nil, errNilStorage
	}
	var keys [][]byte
	if err := f.store.KVGetList(pairIndexKey, &keys); err != nil {
		return nil, fmt.Errorf("exchange: load pair index: %w", err)
	}
	out := make([]Pair, 0, len(keys))
	for _, key := range keys {
		var record Pair
		ok, err := f.store.KVGet(key, &record)
		if err != nil {
			return nil, fmt.Errorf("exchange: load pair: %w", err)
		}
		if ok {
			out = append(out, record)
		}
	}
	return out, nil
}
