package privacy

import (
	"strconv"
	"strings"
	"unicode"
)

const (
	minCardDigits = 13
	maxCardDigits = 19
)

// stripSeparators removes spaces and dashes; ok is false if anything other
// than digits remains.
func stripSeparators(raw string) (digits string, ok bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r == ' ' || r == '-' || r == '\t':
			continue
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	return b.String(), true
}

// ValidLuhn applies the Luhn checksum to a card-like number
func ValidLuhn(raw string) bool {
	digits, ok := stripSeparators(raw)
	if !ok || len(digits) < minCardDigits || len(digits) > maxCardDigits {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

var (
	niBlockedPrefixes = map[string]bool{
		"BG": true, "GB": true, "KN": true, "NK": true, "NT": true, "TN": true, "ZZ": true,
	}
	niBadFirst  = "DFIQUV"
	niBadSecond = "DFIOQUV"
)

// ValidNINumber validates a UK National Insurance number shape
// (two letters, six digits, suffix A-D). Case and whitespace are ignored.
func ValidNINumber(raw string) bool {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	id := b.String()
	if len(id) != 9 {
		return false
	}

	for i := 0; i < 2; i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return false
		}
	}
	for i := 2; i < 8; i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	if id[8] < 'A' || id[8] > 'D' {
		return false
	}

	if niBlockedPrefixes[id[:2]] {
		return false
	}
	if strings.IndexByte(niBadFirst, id[0]) >= 0 || strings.IndexByte(niBadSecond, id[1]) >= 0 {
		return false
	}
	return true
}

// ValidIPv4 accepts dotted quads whose octets are canonical decimal 0-255
func ValidIPv4(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// emailSuffixes lists recognised top-level and second-level domain suffixes
var emailSuffixes = []string{
	// second-level
	"co.uk", "org.uk", "ac.uk", "gov.uk", "nhs.uk", "police.uk", "ltd.uk", "plc.uk", "me.uk",
	"com.au", "co.nz", "co.za", "co.in", "com.br", "co.jp",
	// generic
	"com", "org", "net", "edu", "gov", "mil", "int", "info", "biz", "io", "co", "me", "app", "dev",
	// country codes
	"uk", "ie", "de", "fr", "es", "it", "nl", "be", "ch", "at", "se", "no", "dk", "fi", "pl", "pt",
	"eu", "us", "ca", "au", "nz", "in", "jp", "cn", "br", "za", "mx", "sg", "hk",
}

// ValidEmailDomain accepts an address only if the domain after the last @
// ends in a recognised suffix.
func ValidEmailDomain(raw string) bool {
	at := strings.LastIndexByte(raw, '@')
	if at <= 0 || at == len(raw)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSuffix(raw[at+1:], "."))
	for _, suffix := range emailSuffixes {
		if strings.HasSuffix(domain, "."+suffix) && len(domain) > len(suffix)+1 {
			return true
		}
	}
	return false
}

// ValidIBAN checks the ISO 13616 mod-97 checksum
func ValidIBAN(raw string) bool {
	var b strings.Builder
	for _, r := range raw {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	iban := b.String()
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}

	rearranged := iban[4:] + iban[:4]
	rem := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// ValidNHSNumber checks the mod-11 check digit of a ten digit NHS number
func ValidNHSNumber(raw string) bool {
	digits, ok := stripSeparators(raw)
	if !ok || len(digits) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}
	return check == int(digits[9]-'0')
}
