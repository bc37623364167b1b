// Package timestamp provides the arbitrary-precision simulation time used by
// the CXXRTL protocol.
package timestamp

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// FractionDigits is the number of digits after the decimal point in the wire
// representation of a timestamp.
const FractionDigits = 15

var femtosecondsPerSecond = new(big.Int).Exp(big.NewInt(10), big.NewInt(FractionDigits), nil)

// A Timestamp is a non-negative number of femtoseconds. Timestamps are
// immutable. The zero value is time zero.
type Timestamp struct {
	fs *big.Int
}

// Zero returns the timestamp at time zero.
func Zero() Timestamp {
	return Timestamp{}
}

// FromFemtoseconds creates a timestamp from a femtosecond count. It panics if
// the count is negative.
func FromFemtoseconds(fs *big.Int) Timestamp {
	if fs.Sign() < 0 {
		panic("timestamp: negative femtosecond count")
	}

	return Timestamp{fs: new(big.Int).Set(fs)}
}

// FromFemtosecondsUint64 creates a timestamp from a femtosecond count.
func FromFemtosecondsUint64(fs uint64) Timestamp {
	return Timestamp{fs: new(big.Int).SetUint64(fs)}
}

func (t Timestamp) value() *big.Int {
	if t.fs == nil {
		return new(big.Int)
	}

	return t.fs
}

// Femtoseconds returns a copy of the femtosecond count.
func (t Timestamp) Femtoseconds() *big.Int {
	return new(big.Int).Set(t.value())
}

// Add returns t + o.
func (t Timestamp) Add(o Timestamp) Timestamp {
	return Timestamp{fs: new(big.Int).Add(t.value(), o.value())}
}

// Cmp compares two timestamps and returns -1, 0 or +1.
func (t Timestamp) Cmp(o Timestamp) int {
	return t.value().Cmp(o.value())
}

// IsZero reports whether t is time zero.
func (t Timestamp) IsZero() bool {
	return t.value().Sign() == 0
}

// String returns the wire representation, seconds and 15 fractional digits.
func (t Timestamp) String() string {
	sec, frac := new(big.Int).QuoRem(t.value(), femtosecondsPerSecond, new(big.Int))

	fracStr := frac.String()

	return sec.String() + "." + strings.Repeat("0", FractionDigits-len(fracStr)) + fracStr
}

// Parse parses the wire representation of a timestamp.
func Parse(s string) (Timestamp, error) {
	secPart, fracPart, hasFrac := strings.Cut(s, ".")
	if secPart == "" || !allDigits(secPart) {
		return Timestamp{}, fmt.Errorf("timestamp: invalid seconds in %q", s)
	}

	if hasFrac {
		if len(fracPart) > FractionDigits || !allDigits(fracPart) {
			return Timestamp{}, fmt.Errorf("timestamp: invalid fraction in %q", s)
		}
	}

	sec, _ := new(big.Int).SetString(secPart, 10)
	fs := new(big.Int).Mul(sec, femtosecondsPerSecond)

	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", FractionDigits-len(fracPart))
		frac, _ := new(big.Int).SetString(padded, 10)
		fs.Add(fs, frac)
	}

	return Timestamp{fs: fs}, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// MarshalJSON encodes the timestamp as its wire string.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a timestamp from its wire string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
