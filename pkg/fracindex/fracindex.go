// Package fracindex generates string order keys that sort lexicographically
// and always leave room for another key between any two existing ones, so
// reordering an item never renumbers its siblings.
//
// Keys are built from a base-62 digit alphabet with a variable-length
// integer part ("a0", "a1", ... with 'a'-'z' heads for positive lengths and
// 'Z'-'A' heads for negative ones) followed by an optional fraction. The
// empty string stands for an unbounded end of the interval.
package fracindex

import (
	"errors"
	"fmt"
	"strings"
)

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// smallestInteger is the minimum representable integer part. It is not a
// valid key itself because nothing can be generated below it.
const smallestInteger = "A00000000000000000000000000"

const firstKey = "a0"

// ErrInvalidRange is returned when lower >= upper, including the equal-key
// case produced by concurrent offline inserts.
var ErrInvalidRange = errors.New("fracindex: lower bound must be less than upper bound")

// ErrInvalidKey is returned for keys that were not produced by this package.
var ErrInvalidKey = errors.New("fracindex: invalid order key")

// ErrExhausted is returned when the integer key space overflows. Reaching it
// requires on the order of 62^27 appends in one direction.
var ErrExhausted = errors.New("fracindex: order key space exhausted")

func digitIndex(c byte) (int, error) {
	i := strings.IndexByte(digits, c)
	if i < 0 {
		return 0, fmt.Errorf("%w: unexpected digit %q", ErrInvalidKey, c)
	}
	return i, nil
}

// integerLength returns the total length of an integer part starting with
// head, including the head itself.
func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("%w: bad integer head %q", ErrInvalidKey, head)
	}
}

// integerPart splits off the integer prefix of a key.
func integerPart(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("%w: truncated integer part in %q", ErrInvalidKey, key)
	}
	return key[:n], nil
}

func validateInteger(i string) error {
	n, err := integerLength(i[0])
	if err != nil {
		return err
	}
	if len(i) != n {
		return fmt.Errorf("%w: integer part %q has wrong length", ErrInvalidKey, i)
	}
	for j := 1; j < len(i); j++ {
		if _, err := digitIndex(i[j]); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether key is a well-formed order key.
func Validate(key string) error {
	ip, err := integerPart(key)
	if err != nil {
		return err
	}
	if err := validateInteger(ip); err != nil {
		return err
	}
	frac := key[len(ip):]
	if strings.HasSuffix(frac, "0") {
		return fmt.Errorf("%w: fraction of %q ends in zero", ErrInvalidKey, key)
	}
	for j := 0; j < len(frac); j++ {
		if _, err := digitIndex(frac[j]); err != nil {
			return err
		}
	}
	if key == smallestInteger {
		return fmt.Errorf("%w: %q is below the generatable range", ErrInvalidKey, key)
	}
	return nil
}

// incrementInteger returns the next integer part after i, or ok=false on
// overflow of the largest representable integer.
func incrementInteger(i string) (string, bool, error) {
	if err := validateInteger(i); err != nil {
		return "", false, err
	}
	head := i[0]
	digs := []byte(i[1:])
	carry := true
	for j := len(digs) - 1; carry && j >= 0; j-- {
		d, err := digitIndex(digs[j])
		if err != nil {
			return "", false, err
		}
		if d == len(digits)-1 {
			digs[j] = '0'
		} else {
			digs[j] = digits[d+1]
			carry = false
		}
	}
	if carry {
		if head == 'Z' {
			return firstKey, true, nil
		}
		if head == 'z' {
			return "", false, nil
		}
		next := head + 1
		if next > 'a' {
			digs = append(digs, '0')
		} else {
			digs = digs[:len(digs)-1]
		}
		return string(next) + string(digs), true, nil
	}
	return string(head) + string(digs), true, nil
}

// decrementInteger mirrors incrementInteger for the negative direction.
func decrementInteger(i string) (string, bool, error) {
	if err := validateInteger(i); err != nil {
		return "", false, err
	}
	head := i[0]
	digs := []byte(i[1:])
	borrow := true
	for j := len(digs) - 1; borrow && j >= 0; j-- {
		d, err := digitIndex(digs[j])
		if err != nil {
			return "", false, err
		}
		if d == 0 {
			digs[j] = digits[len(digits)-1]
		} else {
			digs[j] = digits[d-1]
			borrow = false
		}
	}
	if borrow {
		if head == 'a' {
			return "Z" + string(digits[len(digits)-1]), true, nil
		}
		if head == 'A' {
			return "", false, nil
		}
		prev := head - 1
		if prev < 'Z' {
			digs = append(digs, digits[len(digits)-1])
		} else {
			digs = digs[:len(digs)-1]
		}
		return string(prev) + string(digs), true, nil
	}
	return string(head) + string(digs), true, nil
}

// midpoint returns a fraction strictly between fractions a and b. An empty b
// means the upper bound is unbounded (1.0); callers never pass an empty b
// for a bounded interval because bounded intervals with equal integer parts
// always differ in their fractions.
func midpoint(a, b string) (string, error) {
	if b != "" {
		if a >= b {
			return "", fmt.Errorf("%w: fraction %q not below %q", ErrInvalidRange, a, b)
		}
		n := 0
		for n < len(b) {
			ca := byte('0')
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			var trailA string
			if n < len(a) {
				trailA = a[n:]
			}
			rest, err := midpoint(trailA, b[n:])
			if err != nil {
				return "", err
			}
			return b[:n] + rest, nil
		}
	}
	digitA := 0
	if a != "" {
		var err error
		if digitA, err = digitIndex(a[0]); err != nil {
			return "", err
		}
	}
	digitB := len(digits)
	if b != "" {
		var err error
		if digitB, err = digitIndex(b[0]); err != nil {
			return "", err
		}
	}
	if digitB-digitA > 1 {
		mid := (digitA + digitB + 1) / 2
		return string(digits[mid]), nil
	}
	// Adjacent leading digits: either truncate b or extend a.
	if len(b) > 1 {
		return b[:1], nil
	}
	var trailA string
	if a != "" {
		trailA = a[1:]
	}
	rest, err := midpoint(trailA, "")
	if err != nil {
		return "", err
	}
	return string(digits[digitA]) + rest, nil
}

// GenerateKeyBetween returns a key strictly between lower and upper under
// lexicographic ordering. An empty bound is unbounded: both empty yields the
// default first key, only lower yields a greater key, only upper a lesser
// one. lower >= upper fails with ErrInvalidRange.
func GenerateKeyBetween(lower, upper string) (string, error) {
	if lower != "" {
		if err := Validate(lower); err != nil {
			return "", err
		}
	}
	if upper != "" {
		if err := Validate(upper); err != nil {
			return "", err
		}
	}
	if lower != "" && upper != "" && lower >= upper {
		return "", fmt.Errorf("%w: %q >= %q", ErrInvalidRange, lower, upper)
	}

	if lower == "" {
		if upper == "" {
			return firstKey, nil
		}
		ib, err := integerPart(upper)
		if err != nil {
			return "", err
		}
		fb := upper[len(ib):]
		if ib == smallestInteger {
			mid, err := midpoint("", fb)
			if err != nil {
				return "", err
			}
			return ib + mid, nil
		}
		if ib < upper {
			return ib, nil
		}
		res, ok, err := decrementInteger(ib)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrExhausted
		}
		return res, nil
	}

	if upper == "" {
		ia, err := integerPart(lower)
		if err != nil {
			return "", err
		}
		fa := lower[len(ia):]
		next, ok, err := incrementInteger(ia)
		if err != nil {
			return "", err
		}
		if !ok {
			mid, err := midpoint(fa, "")
			if err != nil {
				return "", err
			}
			return ia + mid, nil
		}
		return next, nil
	}

	ia, err := integerPart(lower)
	if err != nil {
		return "", err
	}
	fa := lower[len(ia):]
	ib, err := integerPart(upper)
	if err != nil {
		return "", err
	}
	fb := upper[len(ib):]
	if ia == ib {
		mid, err := midpoint(fa, fb)
		if err != nil {
			return "", err
		}
		return ia + mid, nil
	}
	next, ok, err := incrementInteger(ia)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrExhausted
	}
	if next < upper {
		return next, nil
	}
	mid, err := midpoint(fa, "")
	if err != nil {
		return "", err
	}
	return ia + mid, nil
}

// GenerateNKeysBetween returns n strictly increasing keys inside the open
// interval (lower, upper). Bulk imports use it instead of n dependent calls
// to GenerateKeyBetween.
func GenerateNKeysBetween(lower, upper string, n int) ([]string, error) {
	if n < 0 {
		return nil, fmt.Errorf("fracindex: negative key count %d", n)
	}
	if n == 0 {
		return []string{}, nil
	}
	if n == 1 {
		k, err := GenerateKeyBetween(lower, upper)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	}
	if upper == "" {
		out := make([]string, 0, n)
		c := lower
		for i := 0; i < n; i++ {
			k, err := GenerateKeyBetween(c, "")
			if err != nil {
				return nil, err
			}
			out = append(out, k)
			c = k
		}
		return out, nil
	}
	if lower == "" {
		out := make([]string, n)
		c := upper
		for i := n - 1; i >= 0; i-- {
			k, err := GenerateKeyBetween("", c)
			if err != nil {
				return nil, err
			}
			out[i] = k
			c = k
		}
		return out, nil
	}
	mid := n / 2
	c, err := GenerateKeyBetween(lower, upper)
	if err != nil {
		return nil, err
	}
	left, err := GenerateNKeysBetween(lower, c, mid)
	if err != nil {
		return nil, err
	}
	right, err := GenerateNKeysBetween(c, upper, n-mid-1)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	out = append(out, left...)
	out = append(out, c)
	out = append(out, right...)
	return out, nil
}

// MaxKey returns the lexicographically greatest non-empty key, with
// ok=false when the collection holds none. Appending at the end of a list
// is GenerateKeyBetween(MaxKey(...), "").
func MaxKey(keys []string) (string, bool) {
	max, ok := "", false
	for _, k := range keys {
		if k == "" {
			continue
		}
		if !ok || k > max {
			max, ok = k, true
		}
	}
	return max, ok
}

// CompareDesc orders keys descending, the display order of task lists:
// freshly appended items carry the greatest keys and sort first. Keyless
// items sink to the end.
func CompareDesc(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	case a > b:
		return -1
	default:
		return 1
	}
}
