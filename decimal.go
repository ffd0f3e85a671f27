package woolfarm

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Decimal is an arbitrary-precision decimal amount. Resource magnitudes in
// late-game snapshots routinely exceed 1e100, so amounts are never carried
// as binary floating point; all arithmetic is exact rational arithmetic on
// top of math/big.
//
// The zero value is ready to use and equals 0.
type Decimal struct {
	rat *big.Rat
}

// maxFracDigits bounds the rendered fractional digits for values whose exact
// representation is not a finite decimal (only reachable via Quo).
const maxFracDigits = 12

// ParseDecimal parses a decimal string such as "0", "-3.5", "1.2e100".
// Fraction notation ("1/3") is rejected: the wire format is decimal only.
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("empty decimal")
	}
	if strings.ContainsRune(s, '/') {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	return Decimal{rat: r}, nil
}

// MustDecimal parses a decimal string and panics on failure. For constants
// and tests only.
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DecimalFromInt64 returns a Decimal holding the given integer.
func DecimalFromInt64(v int64) Decimal {
	return Decimal{rat: new(big.Rat).SetInt64(v)}
}

func (d Decimal) value() *big.Rat {
	if d.rat == nil {
		return new(big.Rat)
	}
	return d.rat
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{rat: new(big.Rat).Add(d.value(), other.value())}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{rat: new(big.Rat).Sub(d.value(), other.value())}
}

// Mul returns d * other.
func (d Decimal) Mul(other Decimal) Decimal {
	return Decimal{rat: new(big.Rat).Mul(d.value(), other.value())}
}

// Quo returns d / other. Division by zero returns 0.
func (d Decimal) Quo(other Decimal) Decimal {
	o := other.value()
	if o.Sign() == 0 {
		return Decimal{}
	}
	return Decimal{rat: new(big.Rat).Quo(d.value(), o)}
}

// MulInt64 returns d * v.
func (d Decimal) MulInt64(v int64) Decimal {
	return d.Mul(DecimalFromInt64(v))
}

// Pow returns d raised to a non-negative integer exponent.
func (d Decimal) Pow(exp int) Decimal {
	result := new(big.Rat).SetInt64(1)
	base := new(big.Rat).Set(d.value())
	for e := exp; e > 0; e >>= 1 {
		if e&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
	}
	return Decimal{rat: result}
}

// Cmp compares d and other, returning -1, 0 or +1.
func (d Decimal) Cmp(other Decimal) int {
	return d.value().Cmp(other.value())
}

// Sign returns -1, 0 or +1 depending on the sign of d.
func (d Decimal) Sign() int {
	return d.value().Sign()
}

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool {
	return d.Sign() == 0
}

// IsNegative reports whether d < 0.
func (d Decimal) IsNegative() bool {
	return d.Sign() < 0
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b Decimal) Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Float64 returns a float64 approximation. Only for statistics and logging;
// never for amount arithmetic or comparison.
func (d Decimal) Float64() float64 {
	f, _ := d.value().Float64()
	return f
}

// String renders the amount as a canonical decimal string: exact fixed-point
// with trailing zeros trimmed when the value has a finite decimal expansion,
// otherwise rounded to maxFracDigits.
func (d Decimal) String() string {
	r := d.value()
	if r.IsInt() {
		return r.Num().String()
	}

	// A rational has a finite decimal expansion iff its reduced denominator
	// is of the form 2^a * 5^b; max(a, b) is the exact digit count.
	den := new(big.Int).Set(r.Denom())
	var twos, fives int
	two := big.NewInt(2)
	five := big.NewInt(5)
	mod := new(big.Int)
	for {
		q, m := new(big.Int).QuoRem(den, two, mod)
		if m.Sign() != 0 {
			break
		}
		den = q
		twos++
	}
	for {
		q, m := new(big.Int).QuoRem(den, five, mod)
		if m.Sign() != 0 {
			break
		}
		den = q
		fives++
	}

	digits := maxFracDigits
	if den.Cmp(big.NewInt(1)) == 0 {
		digits = twos
		if fives > digits {
			digits = fives
		}
	}

	s := r.FloatString(digits)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// MarshalJSON renders the amount as a JSON string.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts either a JSON string or a bare number.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML renders the amount as a YAML string.
func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML parses a YAML scalar into a Decimal.
func (d *Decimal) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
