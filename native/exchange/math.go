package exchange

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	feeNumerator   = 997
	feeDenominator = 1000
)

// GetAmountOut returns the constant-product output for amountIn after the
// 0.3% pool fee. All intermediate products are computed in 256 bits.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	in, overflow := uint256.FromBig(amountIn)
	if overflow {
		return nil, ErrOverflow
	}
	rIn, overflow := uint256.FromBig(reserveIn)
	if overflow {
		return nil, ErrOverflow
	}
	rOut, overflow := uint256.FromBig(reserveOut)
	if overflow {
		return nil, ErrOverflow
	}
	inWithFee, overflow := new(uint256.Int).MulOverflow(in, uint256.NewInt(feeNumerator))
	if overflow {
		return nil, ErrOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(inWithFee, rOut)
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(rIn, uint256.NewInt(feeDenominator))
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = denominator.AddOverflow(denominator, inWithFee); overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(numerator, denominator).ToBig(), nil
}
