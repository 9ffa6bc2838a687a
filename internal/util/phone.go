package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dialable numbers carry at most 15 digits (E.164) and at least 3 (short codes).
const (
	minNumberDigits = 3
	maxNumberDigits = 15
)

var ErrMalformedNumber = errors.New("malformed number")

// NormalizeNumber turns user or SDK supplied phone numbers into the canonical
// form used for dialing and directory lookups: an optional leading "+" followed
// by digits only. Spaces, dashes, dots and parentheses are dropped and an
// international "00" prefix becomes "+".
func NormalizeNumber(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedNumber)
	}

	plus := false
	switch {
	case strings.HasPrefix(s, "+"):
		plus = true
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		plus = true
		s = s[2:]
	}

	var b strings.Builder
	b.Grow(len(s) + 1)
	if plus {
		b.WriteByte('+')
	}
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected %q in %q", ErrMalformedNumber, r, raw)
		}
	}

	if digits < minNumberDigits || digits > maxNumberDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrMalformedNumber, raw, digits)
	}
	return b.String(), nil
}

// FormatDuration renders an elapsed call time as mm:ss. Minutes wrap at 60,
// matching the agent call bar.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	mins := (total / 60) % 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d", mins, sec)
}
