package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenMetadata describes a fungible asset registered in state.
type TokenMetadata struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = []byte("token-list")
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	rolePrefix      = []byte("role:")
	noncePrefix     = []byte("nonce:")
)

func tokenMetadataKey(asset common.Address) []byte {
	return append(append([]byte(nil), tokenPrefix...), asset.Bytes()...)
}

func balanceKey(asset, account common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength+1)
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset.Bytes()...)
	buf = append(buf, ':')
	return append(buf, account.Bytes()...)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength+2)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, asset.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, ':')
	return append(buf, spender.Bytes()...)
}

func roleKey(role string) []byte {
	return append(append([]byte(nil), rolePrefix...), role...)
}

func nonceKey(account common.Address) []byte {
	return append(append([]byte(nil), noncePrefix...), account.Bytes()...)
}

// RegisterToken stores the metadata for a fungible asset and records it in the
// token index.
func (m *Manager) RegisterToken(asset common.Address, symbol, name string, decimals uint8) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("token address must not be zero")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if m.TokenExists(asset) {
		return fmt.Errorf("token %s already registered", asset.Hex())
	}
	meta := TokenMetadata{Address: asset, Symbol: normalized, Name: strings.TrimSpace(name), Decimals: decimals}
	if err := m.KVPut(tokenMetadataKey(asset), meta); err != nil {
		return err
	}
	return m.KVAppend(tokenListKey, asset.Bytes())
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(asset common.Address) (*TokenMetadata, error) {
	var meta TokenMetadata
	ok, err := m.KVGet(tokenMetadataKey(asset), &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// TokenExists reports whether the provided token is registered.
func (m *Manager) TokenExists(asset common.Address) bool {
	meta, err := m.Token(asset)
	return err == nil && meta != nil
}

// TokenList returns all registered token addresses in ascending byte order.
func (m *Manager) TokenList() ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(tokenListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0 })
	return out, nil
}

// SetBalance stores an account balance for the provided token. Amounts must
// fit in 256 bits.
func (m *Manager) SetBalance(asset, account common.Address, amount *big.Int) error {
	if !m.TokenExists(asset) {
		return fmt.Errorf("token %s not registered", asset.Hex())
	}
	checked, err := checkedAmount(amount)
	if err != nil {
		return fmt.Errorf("balance %s/%s: %w", asset.Hex(), account.Hex(), err)
	}
	if checked.Sign() == 0 {
		return m.KVDelete(balanceKey(asset, account))
	}
	return m.KVPut(balanceKey(asset, account), checked)
}

// Balance retrieves a token balance for the provided account.
func (m *Manager) Balance(asset, account common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(asset, account), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetAllowance records the amount spender may move on behalf of owner.
func (m *Manager) SetAllowance(asset, owner, spender common.Address, amount *big.Int) error {
	checked, err := checkedAmount(amount)
	if err != nil {
		return fmt.Errorf("allowance %s: %w", asset.Hex(), err)
	}
	if checked.Sign() == 0 {
		return m.KVDelete(allowanceKey(asset, owner, spender))
	}
	return m.KVPut(allowanceKey(asset, owner, spender), checked)
}

// Allowance returns the amount spender may move on behalf of owner.
func (m *Manager) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(allowanceKey(asset, owner, spender), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("address must not be zero")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == addr {
			return nil
		}
	}
	members = append(members, addr)
	return m.writeRole(trimmed, members)
}

// RevokeRole removes an address from the specified role.
func (m *Manager) RevokeRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if existing != addr {
			kept = append(kept, existing)
		}
	}
	return m.writeRole(trimmed, kept)
}

func (m *Manager) writeRole(role string, members []common.Address) error {
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i].Bytes(), members[j].Bytes()) < 0
	})
	raw := make([][]byte, 0, len(members))
	for _, member := range members {
		raw = append(raw, member.Bytes())
	}
	return m.KVPut(roleKey(role), raw)
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(roleKey(strings.TrimSpace(role)), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return.
func (m *Manager) HasRole(role string, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// Nonce returns the next expected transaction nonce for the account.
func (m *Manager) Nonce(account common.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(nonceKey(account), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce stores the next expected transaction nonce for the account.
func (m *Manager) SetNonce(account common.Address, nonce uint64) error {
	return m.KVPut(nonceKey(account), nonce)
}

func checkedAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	return new(big.Int).Set(amount), nil
}
