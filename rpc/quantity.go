package rpc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// Quantity is an unsigned integer that nodes may encode as a JSON number, a
// 0x-prefixed hex string or a decimal string. Values beyond 64 bits saturate.
type Quantity uint64

// MarshalJSON writes a plain JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(q), 10)), nil
}

// UnmarshalJSON accepts numbers and hex or decimal strings.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*q = 0
		return nil
	}
	if strings.HasPrefix(text, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseQuantity(s)
		if err != nil {
			return err
		}
		*q = v
		return nil
	}
	if v, err := strconv.ParseUint(text, 10, 64); err == nil {
		*q = Quantity(v)
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f < 0 {
		return fmt.Errorf("invalid quantity %s", text)
	}
	if f >= math.MaxUint64 {
		*q = math.MaxUint64
		return nil
	}
	*q = Quantity(f)
	return nil
}

// ParseQuantity decodes a hex (0x-prefixed) or decimal string.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			return 0, nil
		}
		v, err = uint256.FromHex("0x" + digits)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	if !v.IsUint64() {
		return math.MaxUint64, nil
	}
	return Quantity(v.Uint64()), nil
}

// Hex formats the quantity as a 0x-prefixed hex string.
func (q Quantity) Hex() string {
	return "0x" + strconv.FormatUint(uint64(q), 16)
}
