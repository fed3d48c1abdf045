package bank

import (
	"errors"

	nativecommon "stablebank/native/common"
)

var (
	ErrInvalidAmount           = errors.New("bank: amount must be positive")
	ErrTokenNotAllowed         = errors.New("bank: token not allowed")
	ErrCapExceeded             = errors.New("bank: deposit cap exceeded")
	ErrAmountOutMinZero        = errors.New("bank: minimum output must be positive")
	ErrZeroNativeAmount        = errors.New("bank: native amount must be positive")
	ErrZeroSettlementOut       = errors.New("bank: conversion returned zero settlement amount")
	ErrUnsupportedToken        = errors.New("bank: unsupported token")
	ErrNoDirectPair            = errors.New("bank: no direct pair with settlement asset")
	ErrInsufficientBalance     = errors.New("bank: insufficient balance")
	ErrTotalDepositedUnderflow = errors.New("bank: total deposited underflow")
	ErrNotAuthorized           = errors.New("bank: caller not authorized")
	ErrDirectNativeTransfer    = errors.New("bank: native currency must be sent through depositNativeConvert")
	ErrUnknownOperation        = errors.New("bank: unknown operation")
	ErrNonPayable              = errors.New("bank: operation does not accept native value")
	ErrZeroAddress             = errors.New("bank: zero address")
	ErrInvalidCap              = errors.New("bank: cap must fit in 256 bits")
	ErrSettlementShortfall     = errors.New("bank: exchange delivered less than reported")
	ErrMalformedOutputs        = errors.New("bank: exchange returned malformed outputs")

	// Re-exported so callers can branch on guard failures without importing
	// native/common.
	ErrReentrantCall = nativecommon.ErrReentrantCall
	ErrModulePaused  = nativecommon.ErrModulePaused

	errNilState = errors.New("bank: state not configured")
)
