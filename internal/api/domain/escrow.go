package domain

import (
	"math/big"
	"strings"
)

// TokenDecimals is the fixed-point scale of escrow amounts
const TokenDecimals = 18

var baseUnitsPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// ParseTokenAmount converts a decimal token amount ("0.25") into base units.
// Precision past TokenDecimals is truncated.
func ParseTokenAmount(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, invalidf("invalid escrow amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, invalidf("escrow amount must not be negative")
	}

	r.Mul(r, new(big.Rat).SetInt(baseUnitsPerToken))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// ParseBaseUnits parses an integer escrow amount already scaled by 10^18
func ParseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, invalidf("invalid escrow amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, invalidf("escrow amount must not be negative")
	}
	return v, nil
}

// FormatTokenAmount renders base units as a token amount without trailing zeros
func FormatTokenAmount(units *big.Int) string {
	if units == nil {
		return "0"
	}

	s := new(big.Rat).SetFrac(units, baseUnitsPerToken).FloatString(TokenDecimals)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// MinimumEscrow returns ceil(floorUSD / priceUSD) tokens expressed in base units
func MinimumEscrow(floorUSD, priceUSD string) (*big.Int, error) {
	floor, ok := new(big.Rat).SetString(strings.TrimSpace(floorUSD))
	if !ok || floor.Sign() < 0 {
		return nil, invalidf("invalid minimum escrow floor %q", floorUSD)
	}

	price, ok := new(big.Rat).SetString(strings.TrimSpace(priceUSD))
	if !ok || price.Sign() <= 0 {
		return nil, invalidf("invalid token price %q", priceUSD)
	}

	q := new(big.Rat).Quo(floor, price)
	q.Mul(q, new(big.Rat).SetInt(baseUnitsPerToken))

	quo, rem := new(big.Int).QuoRem(q.Num(), q.Denom(), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}
