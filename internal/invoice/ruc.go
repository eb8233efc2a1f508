package invoice

import "strings"

// mod11 factors cycle 2..11 from the rightmost digit.
var mod11Factors = []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

// CheckDigit computes the modulo-11 verifier digit for a tax id base.
// Results of 10 or 11 collapse to "0".
func CheckDigit(base string) string {
	var digits []int
	for _, r := range base {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) == 0 {
		return "0"
	}
	acc := 0
	for i := 0; i < len(digits); i++ {
		d := digits[len(digits)-1-i]
		acc += d * mod11Factors[i%len(mod11Factors)]
	}
	dv := 11 - (acc % 11)
	if dv >= 10 {
		return "0"
	}
	return string(rune('0' + dv))
}

// ParseTaxID splits a raw tax id into base and verifier digit. When the raw
// value has no separator the verifier is computed. Returns empty strings for
// an id with no digits at all.
func ParseTaxID(raw string) (base, dv string) {
	parts := splitDigitRuns(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return "", ""
	}
	base = strings.TrimLeft(parts[0], "0")
	if base == "" {
		base = "0"
	}
	if len(parts) >= 2 {
		return base, parts[1]
	}
	return base, CheckDigit(base)
}

// splitDigitRuns returns the maximal digit runs in s, in order.
func splitDigitRuns(s string) []string {
	var runs []string
	var cur strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			runs = append(runs, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		runs = append(runs, cur.String())
	}
	return runs
}
