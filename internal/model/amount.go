package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// MaxAmount is the largest accepted expense amount in minor units (10 billion).
const MaxAmount Amount = 1_000_000_000_000

// Amount is a non-negative money value in minor units (cents).
type Amount int64

// ParseAmount parses a decimal string such as "12", "12.5" or "12.50".
// At most two fractional digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidArgument)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") || len(frac) > 2 {
		return 0, fmt.Errorf("%w: amount must be a decimal with at most two fractional digits", ErrInvalidArgument)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: amount must be a decimal with at most two fractional digits", ErrInvalidArgument)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	// Guard against overflow before multiplying.
	if len(strings.TrimLeft(whole, "0")) > 12 {
		return 0, fmt.Errorf("%w: amount is too large", ErrInvalidArgument)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount is too large", ErrInvalidArgument)
	}
	f, _ := strconv.ParseInt(frac, 10, 64)

	a := Amount(w*100 + f)
	if a > MaxAmount {
		return 0, fmt.Errorf("%w: amount is too large", ErrInvalidArgument)
	}
	return a, nil
}

// Validate checks the amount is within the accepted range.
func (a Amount) Validate() error {
	if a < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}
	if a > MaxAmount {
		return fmt.Errorf("%w: amount is too large", ErrInvalidArgument)
	}
	return nil
}

// String formats the amount with two fractional digits.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a JSON number such as 12.50.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
// Numbers are parsed from their literal text so no float rounding happens.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: amount is required", ErrInvalidArgument)
	}
	s := string(data)
	if len(data) >= 2 && data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("%w: amount is malformed", ErrInvalidArgument)
		}
		s = unq
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
