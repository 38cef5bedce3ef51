package payments

import (
	"math/big"
	"strings"

	"github.com/gluenet/agentmesh"
)

// ParseAmount converts a decimal string such as "0.01" into smallest token
// units for a token with the given number of decimals.
//
// Parsing is exact: digits beyond the token's precision are rejected with
// ErrPrecisionLoss unless they are all zero. Negative and malformed inputs
// are rejected. Monetary values must never be rounded silently.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "empty amount")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "amount must not be negative: %s", s)
	}

	intPart := trimmed
	fracPart := ""
	if i := strings.IndexByte(trimmed, '.'); i >= 0 {
		intPart, fracPart = trimmed[:i], trimmed[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "malformed amount: %s", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDecimalDigits(intPart) || (fracPart != "" && !isDecimalDigits(fracPart)) {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "malformed amount: %s", s)
	}

	if len(fracPart) > int(decimals) {
		if strings.Trim(fracPart[decimals:], "0") != "" {
			return nil, agentmesh.Ef(agentmesh.KindPrecisionLoss,
				"amount %s does not fit in %d decimals", s, decimals)
		}
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "malformed amount: %s", s)
	}
	return units, nil
}

// FormatAmount renders smallest token units as a decimal string. It is the
// exact inverse of ParseAmount: no rounding, no trailing zeros beyond
// significance.
func FormatAmount(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(units)
	if units.Sign() < 0 {
		sign = "-"
	}
	digits := abs.String()
	if decimals == 0 {
		return sign + digits
	}
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	split := len(digits) - int(decimals)
	intPart, fracPart := digits[:split], digits[split:]
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return sign + intPart
	}
	return sign + intPart + "." + fracPart
}

// RoundHalfEven converts a rational value to smallest token units using
// banker's rounding. It exists for derived arithmetic (fee splits, exchange
// ratios); user-entered amounts go through ParseAmount, which never rounds.
func RoundHalfEven(r *big.Rat, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	num := new(big.Int).Mul(r.Num(), scale)
	den := r.Denom()

	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() == 0 {
		return q
	}

	twice := new(big.Int).Lsh(new(big.Int).Abs(rem), 1)
	away := big.NewInt(1)
	if num.Sign() < 0 {
		away = big.NewInt(-1)
	}
	switch twice.Cmp(den) {
	case -1:
		return q
	case 1:
		return q.Add(q, away)
	default:
		// Exactly half: round toward the even neighbor.
		if q.Bit(0) == 0 {
			return q
		}
		return q.Add(q, away)
	}
}

func isDecimalDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
