package config

import (
	"os"
	"strings"
)

// MpesaEnvironment selects the Daraja base URL, the forced sandbox amount and
// the default passkey.
type MpesaEnvironment string

const (
	MpesaSandbox    MpesaEnvironment = "sandbox"
	MpesaProduction MpesaEnvironment = "production"
)

const (
	mpesaSandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionBaseURL = "https://api.safaricom.co.ke"

	// Publicly documented Daraja sandbox passkey; used only when no passkey is
	// configured and the environment is sandbox.
	mpesaSandboxPasskey = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
)

// MpesaConfig is the canonical gateway configuration. Env aliases are resolved
// once at load time; nothing else in the codebase reads gateway env vars.
type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Environment    MpesaEnvironment
	CallbackURL    string

	// TransactionDesc is the fixed description sent with every push request.
	TransactionDesc string
}

// LoadMpesa resolves the accepted env aliases into a canonical MpesaConfig.
// Missing credentials do not error: initiation degrades to mock mode instead
// of crashing the process.
func LoadMpesa() MpesaConfig {
	env := MpesaSandbox
	switch strings.ToLower(firstEnv("MPESA_ENV", "MPESA_ENVIRONMENT", "DARAJA_ENV")) {
	case "production", "prod", "live":
		env = MpesaProduction
	}

	cfg := MpesaConfig{
		ConsumerKey:     firstEnv("MPESA_CONSUMER_KEY", "DARAJA_CONSUMER_KEY", "SAFARICOM_CONSUMER_KEY"),
		ConsumerSecret:  firstEnv("MPESA_CONSUMER_SECRET", "DARAJA_CONSUMER_SECRET", "SAFARICOM_CONSUMER_SECRET"),
		ShortCode:       firstEnv("MPESA_SHORTCODE", "MPESA_SHORT_CODE", "MPESA_PAYBILL"),
		Passkey:         firstEnv("MPESA_PASSKEY", "MPESA_PASS_KEY", "DARAJA_PASSKEY"),
		Environment:     env,
		CallbackURL:     firstEnv("MPESA_CALLBACK_URL", "MPESA_CALLBACK", "PAYMENT_CALLBACK_URL"),
		TransactionDesc: "Order payment",
	}
	if cfg.Passkey == "" && env == MpesaSandbox {
		cfg.Passkey = mpesaSandboxPasskey
	}
	return cfg
}

// BaseURL returns the gateway base URL for the configured environment.
func (c MpesaConfig) BaseURL() string {
	if c.Environment == MpesaProduction {
		return mpesaProductionBaseURL
	}
	return mpesaSandboxBaseURL
}

// IsConfigured reports whether live gateway calls are possible. When false,
// initiation runs in mock mode.
func (c MpesaConfig) IsConfigured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.ShortCode != "" && c.Passkey != "" && c.CallbackURL != ""
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
