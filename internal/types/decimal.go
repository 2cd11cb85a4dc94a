package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// decimalScale is the number of implied fractional digits a Decimal
// carries internally (18, wei-style fixed point). The pack carries no
// arbitrary-precision decimal library, so Decimal is a thin big.Int
// wrapper — see DESIGN.md for why this stays on the standard library.
const decimalScale = 18

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimalScale), nil)

// Decimal is a fixed-point monetary amount. Its canonical textual form
// (String) is a normalized decimal string with no trailing zeros, which
// is what the codec hashes and what Store persists — never a float.
type Decimal struct {
	// scaled holds value * 10^decimalScale. A nil *big.Int behaves as zero.
	scaled *big.Int
}

// ZeroDecimal is the additive identity.
func ZeroDecimal() Decimal {
	return Decimal{scaled: new(big.Int)}
}

// DecimalFromInt64 builds a Decimal from a whole-number amount.
func DecimalFromInt64(v int64) Decimal {
	return Decimal{scaled: new(big.Int).Mul(big.NewInt(v), scaleFactor)}
}

// DecimalFromString parses a canonical or non-canonical decimal string
// such as "1.1" or "5" into a Decimal.
func DecimalFromString(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("empty decimal string")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimalScale {
		return Decimal{}, fmt.Errorf("decimal %q has more than %d fractional digits", s, decimalScale)
	}
	if hasFrac {
		frac = frac + strings.Repeat("0", decimalScale-len(frac))
	} else {
		frac = strings.Repeat("0", decimalScale)
	}
	combined, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal string %q", s)
	}
	if neg {
		combined.Neg(combined)
	}
	return Decimal{scaled: combined}, nil
}

func (d Decimal) big() *big.Int {
	if d.scaled == nil {
		return new(big.Int)
	}
	return d.scaled
}

// String renders the canonical decimal form: normalized, no trailing
// fractional zeros, no trailing dot.
func (d Decimal) String() string {
	v := d.big()
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	digits := abs.String()
	for len(digits) <= decimalScale {
		digits = "0" + digits
	}
	whole := digits[:len(digits)-decimalScale]
	frac := digits[len(digits)-decimalScale:]
	frac = strings.TrimRight(frac, "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Add(d.big(), other.big())}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Sub(d.big(), other.big())}
}

// Cmp compares d to other: -1, 0 or 1.
func (d Decimal) Cmp(other Decimal) int {
	return d.big().Cmp(other.big())
}

// Sign returns -1, 0 or 1.
func (d Decimal) Sign() int {
	return d.big().Sign()
}

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool {
	return d.big().Sign() == 0
}

// MulPercent returns d * pct / 100, used by the slasher's stake penalty
// and the vote tally's supermajority threshold.
func (d Decimal) MulPercent(pct float64) Decimal {
	// pct is a small constant (e.g. 80.0, the share of stake a slash leaves);
	// scaling through a rational avoids floating-point drift in the result.
	num := new(big.Int).Mul(d.big(), big.NewInt(int64(pct*1e6)))
	num.Div(num, big.NewInt(100*1e6))
	return Decimal{scaled: num}
}

// MarshalCBOR encodes the Decimal as its canonical decimal string so the
// codec's hash domain never has to reason about big.Int internals.
func (d Decimal) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(d.String())
}

// UnmarshalCBOR decodes a canonical decimal string back into a Decimal.
func (d *Decimal) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := DecimalFromString(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
