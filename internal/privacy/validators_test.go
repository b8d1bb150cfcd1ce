package privacy

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestValidLuhn(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"visa spaced", "4111 1111 1111 1111", true},
		{"visa dashed", "4111-1111-1111-1111", true},
		{"mastercard", "5500000000000004", true},
		{"amex", "378282246310005", true},
		{"checksum off by one", "4111 1111 1111 1112", false},
		{"too short", "4111 1111 111", false},
		{"too long", "41111111111111111111", false},
		{"letters", "4111 1111 1111 111a", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidLuhn(tt.input))
		})
	}
}

func TestValidNINumber(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"AB123456C", true},
		{"ab 12 34 56 c", true},
		{"JG 10 37 59 A", true},
		{"GB123456A", false}, // blocked prefix
		{"TN123456A", false}, // blocked prefix
		{"QQ123456C", false}, // bad first letter
		{"AO123456C", false}, // bad second letter
		{"DA123456C", false},
		{"AB123456E", false}, // suffix out of range
		{"AB12345C", false},
		{"", false},
		{"ÅB123456C", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNINumber(tt.input))
		})
	}
}

func TestValidIPv4(t *testing.T) {
	valid := []string{"192.168.1.1", "0.0.0.0", "255.255.255.255", "10.0.12.7"}
	invalid := []string{"999.1.1.1", "256.1.1.1", "01.2.3.4", "1.2.3", "1.2.3.4.5", "1..2.3", "a.b.c.d", "", "1.2.3.-4"}

	for _, ip := range valid {
		assert.True(t, ValidIPv4(ip), ip)
	}
	for _, ip := range invalid {
		assert.False(t, ValidIPv4(ip), ip)
	}
}

func TestValidEmailDomain(t *testing.T) {
	valid := []string{"john.doe@example.com", "a@b.co.uk", "x@nhs.uk.org", "team@Company.IO", "weird@user@example.org"}
	invalid := []string{"admin@localhost.localdomain", "root@server.internal", "x@.com", "@example.com", "nobody@", "plain", "a@com"}

	for _, e := range valid {
		assert.True(t, ValidEmailDomain(e), e)
	}
	for _, e := range invalid {
		assert.False(t, ValidEmailDomain(e), e)
	}
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, ValidIBAN("GB82 WEST 1234 5698 7654 32"))
	assert.True(t, ValidIBAN("GB29NWBK60161331926819"))
	assert.True(t, ValidIBAN("DE89370400440532013000"))
	assert.False(t, ValidIBAN("GB82 WEST 1234 5698 7654 33"))
	assert.False(t, ValidIBAN("GB82"))
	assert.False(t, ValidIBAN("GB82 WEST 1234 5698 7654 3!"))
}

func TestValidNHSNumber(t *testing.T) {
	assert.True(t, ValidNHSNumber("943 476 5919"))
	assert.True(t, ValidNHSNumber("9434765919"))
	assert.False(t, ValidNHSNumber("943 476 5918"))
	assert.False(t, ValidNHSNumber("943 476 591"))
	assert.False(t, ValidNHSNumber("943-476-59x9"))
}

func TestValidatorsAreTotal(t *testing.T) {
	validators := map[string]Validator{
		"luhn":  ValidLuhn,
		"ni":    ValidNINumber,
		"ipv4":  ValidIPv4,
		"email": ValidEmailDomain,
		"iban":  ValidIBAN,
		"nhs":   ValidNHSNumber,
	}

	for name, v := range validators {
		v := v
		t.Run(name, func(t *testing.T) {
			err := quick.Check(func(s string) bool {
				v(s)
				return true
			}, &quick.Config{MaxCount: 2000})
			assert.NoError(t, err)
		})
	}
}
