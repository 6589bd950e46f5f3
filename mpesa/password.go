package mpesa

import (
	"encoding/base64"
	"time"
)

const timestampLayout = "20060102150405"

// Timestamp formats t the way the gateway signs requests: YYYYMMDDHHMMSS,
// second precision, local server clock (the gateway does not specify a
// timezone conversion).
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// Password derives the request signature from the business short code, the
// shared passkey and a pre-formatted timestamp. Pure; no I/O.
func Password(shortCode, passkey, timestamp string) (string, error) {
	if shortCode == "" || passkey == "" {
		return "", ErrMissingCredentials
	}
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp)), nil
}
