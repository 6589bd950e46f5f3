package mpesa

import (
	"strings"

	"bitbucket.org/dukalink/shop_backend/utils"
)

const (
	countryCodePrefix = "254"
	trunkPrefix       = "0"
)

// NormalizePhone converts the national formats the storefront accepts
// (07XXXXXXXX, +254XXXXXXXXX, 254XXXXXXXXX) to the gateway's MSISDN form.
// All non-digit characters are stripped, a leading trunk zero is replaced
// with the country code, and anything that does not end up starting with 254
// is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", ErrInvalidPhone
	}

	if strings.HasPrefix(digits, trunkPrefix) {
		digits = countryCodePrefix + digits[len(trunkPrefix):]
	}
	if !strings.HasPrefix(digits, countryCodePrefix) {
		return "", ErrInvalidPhone
	}

	// MSISDN validity check on top of the prefix rule. The gateway rejects
	// malformed subscriber numbers with an opaque error; catching them here
	// turns that into a 4xx for the caller.
	if err := utils.ValidatePhoneNumber("+"+digits, utils.CountryCode); err != nil {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
