package config

// CardConfig is the canonical configuration for the redirect-based card
// gateway. Aliases are resolved once at load time, same as MpesaConfig.
type CardConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
}

// LoadCard resolves the accepted env aliases into a canonical CardConfig.
func LoadCard() CardConfig {
	baseURL := firstEnv("CARD_GATEWAY_BASE_URL", "PAYSTACK_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return CardConfig{
		SecretKey:   firstEnv("CARD_GATEWAY_SECRET_KEY", "PAYSTACK_SECRET_KEY"),
		BaseURL:     baseURL,
		CallbackURL: firstEnv("CARD_GATEWAY_CALLBACK_URL", "PAYSTACK_CALLBACK_URL"),
	}
}

// IsConfigured reports whether live card checkout calls are possible.
func (c CardConfig) IsConfigured() bool {
	return c.SecretKey != ""
}
