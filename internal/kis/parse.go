// parse.go holds the tolerant numeric coercion used for KIS payloads.
//
// The broker sends every numeric field as a string, sometimes with a
// decimal point on integral quantities ("1000.00") and sometimes empty.
// Parsing goes through float64 first so both shapes coerce cleanly.
package kis

import (
	"strconv"
	"strings"
)

// num parses a KIS numeric string. Empty and malformed values coerce to 0.
func num(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// inum parses a KIS integral string via float64, so "1000.00" → 1000.
func inum(s string) int64 {
	return int64(num(s))
}
