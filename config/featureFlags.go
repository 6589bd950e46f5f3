package config

import (
	"os"
	"strings"
)

// DevMode relaxes inbound trust checks (callback source-IP allowlist) for
// local development.
//
// Set via env:
// - DEV_MODE=true
func DevMode() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DEV_MODE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// CallbackAllowlist returns the comma-separated list of source IPs/CIDRs
// accepted on the gateway callback endpoint. Empty means "use the built-in
// published gateway ranges".
//
// Set via env:
// - MPESA_CALLBACK_ALLOWLIST="196.201.214.200,196.201.213.0/24"
func CallbackAllowlist() []string {
	raw := strings.TrimSpace(os.Getenv("MPESA_CALLBACK_ALLOWLIST"))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
