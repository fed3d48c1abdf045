package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrMissingSignature indicates the transaction has not been signed.
	ErrMissingSignature = errors.New("tx: signature required")
	// ErrInvalidSignature indicates the signature could not be recovered.
	ErrInvalidSignature = errors.New("tx: signature invalid")
	// ErrInvalidField indicates an amount field that cannot be encoded.
	ErrInvalidField = errors.New("tx: invalid field")
)

// Transaction is a signed call against a ledger component. To names the
// target (the bank, a token, or any account for bare native transfers) and
// Method the operation. Value carries attached native currency.
type Transaction struct {
	ChainID   string         `json:"chainId"`
	Nonce     uint64         `json:"nonce"`
	To        common.Address `json:"to"`
	Method    string         `json:"method,omitempty"`
	Asset     common.Address `json:"asset,omitempty"`
	Account   common.Address `json:"account,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	MinOut    *big.Int       `json:"minOut,omitempty"`
	Value     *big.Int       `json:"value,omitempty"`
	Allowed   bool           `json:"allowed,omitempty"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`

	from *common.Address
}

type signingPayload struct {
	ChainID string
	Nonce   uint64
	To      common.Address
	Method  string
	Asset   common.Address
	Account common.Address
	Amount  *big.Int
	MinOut  *big.Int
	Value   *big.Int
	Allowed bool
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Hash returns the keccak256 digest of the RLP-encoded signing payload.
// Negative amounts have no encoding and are rejected with ErrInvalidField.
func (tx *Transaction) Hash() ([]byte, error) {
	for _, field := range []struct {
		name  string
		value *big.Int
	}{{"amount", tx.Amount}, {"minOut", tx.MinOut}, {"value", tx.Value}} {
		if field.value != nil && field.value.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s is negative", ErrInvalidField, field.name)
		}
	}
	payload := signingPayload{
		ChainID: strings.TrimSpace(tx.ChainID),
		Nonce:   tx.Nonce,
		To:      tx.To,
		Method:  strings.TrimSpace(tx.Method),
		Asset:   tx.Asset,
		Account: tx.Account,
		Amount:  orZero(tx.Amount),
		MinOut:  orZero(tx.MinOut),
		Value:   orZero(tx.Value),
		Allowed: tx.Allowed,
	}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Sign signs the transaction hash with the supplied secp256k1 key.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() (common.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if len(tx.Signature) == 0 {
		return common.Address{}, ErrMissingSignature
	}
	if len(tx.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Address{}, err
	}
	pubKey, err := crypto.SigToPub(hash, tx.Signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	sender := crypto.PubkeyToAddress(*pubKey)
	tx.from = &sender
	return sender, nil
}
