package executor

import (
	"errors"

	"stablebank/core/types"
	"stablebank/native/bank"
	nativecommon "stablebank/native/common"
	"stablebank/native/exchange"
	"stablebank/native/token"
)

// CodeInternal is reported for failures without a stable code.
const CodeInternal = "Internal"

// Bank sentinels come first: several of them share wording with token and
// exchange errors but carry different meaning.
var errorCodes = []struct {
	err  error
	code string
}{
	{bank.ErrInvalidAmount, "InvalidAmount"},
	{bank.ErrTokenNotAllowed, "TokenNotAllowed"},
	{bank.ErrCapExceeded, "CapExceeded"},
	{bank.ErrAmountOutMinZero, "AmountOutMinZero"},
	{bank.ErrZeroNativeAmount, "ZeroNativeAmount"},
	{bank.ErrZeroSettlementOut, "ZeroSettlementOut"},
	{bank.ErrUnsupportedToken, "UnsupportedToken"},
	{bank.ErrNoDirectPair, "NoDirectPair"},
	{bank.ErrInsufficientBalance, "InsufficientBalance"},
	{bank.ErrTotalDepositedUnderflow, "TotalDepositedUnderflow"},
	{bank.ErrNotAuthorized, "NotAuthorized"},
	{bank.ErrDirectNativeTransfer, "DirectNativeTransfer"},
	{bank.ErrUnknownOperation, "UnknownOperation"},
	{bank.ErrNonPayable, "NonPayable"},
	{bank.ErrZeroAddress, "ZeroAddress"},
	{bank.ErrInvalidCap, "InvalidCap"},
	{bank.ErrSettlementShortfall, "SettlementShortfall"},
	{bank.ErrMalformedOutputs, "MalformedOutputs"},
	{nativecommon.ErrReentrantCall, "ReentrantCall"},
	{nativecommon.ErrModulePaused, "ModulePaused"},
	{nativecommon.ErrQuotaRequestsExceeded, "QuotaRequestsExceeded"},
	{nativecommon.ErrQuotaAmountExceeded, "QuotaAmountExceeded"},
	{exchange.ErrExpired, "Expired"},
	{exchange.ErrInsufficientOutput, "InsufficientOutput"},
	{exchange.ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{exchange.ErrInvalidPath, "InvalidPath"},
	{exchange.ErrPairNotFound, "PairNotFound"},
	{exchange.ErrOverflow, "Overflow"},
	{token.ErrInsufficientBalance, "InsufficientTokenBalance"},
	{token.ErrInsufficientAllowance, "InsufficientAllowance"},
	{token.ErrUnknownAsset, "UnknownAsset"},
	{token.ErrInvalidAmount, "InvalidAmount"},
	{token.ErrZeroAddress, "ZeroAddress"},
	{types.ErrMissingSignature, "MissingSignature"},
	{types.ErrInvalidSignature, "InvalidSignature"},
	{types.ErrInvalidField, "InvalidField"},
	{ErrWrongChain, "WrongChain"},
	{ErrNonceMismatch, "NonceMismatch"},
	{ErrUnknownTarget, "UnknownTarget"},
	{ErrUnknownMethod, "UnknownMethod"},
	{ErrReadOnly, "ReadOnly"},
	{ErrInvariant, "InvariantViolation"},
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}
