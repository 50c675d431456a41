package config

import (
	"fmt"
	"os"
	"strings"
)

// AppEnvironment returns the normalized deployment environment taken from
// APP_ENV. Unknown or empty values fall back to "development".
func AppEnvironment() string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))) {
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "testing"
	default:
		return "development"
	}
}

// IsProductionLike reports whether the current environment is production or
// staging.
func IsProductionLike() bool {
	env := AppEnvironment()
	return env == "production" || env == "staging"
}

// Credentials holds the Binance USD-M API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// LoadCredentials resolves the Binance key pair from the environment. The
// futures-specific variables take precedence over the generic ones so a
// single host can carry both spot and USD-M keys.
func LoadCredentials() (Credentials, error) {
	key := firstEnv("BINANCE_UM_API_KEY", "BINANCE_API_KEY")
	secret := firstEnv("BINANCE_UM_API_SECRET", "BINANCE_API_SECRET")
	if key == "" || secret == "" {
		return Credentials{}, fmt.Errorf("missing Binance credentials: set BINANCE_UM_API_KEY and BINANCE_UM_API_SECRET (or BINANCE_API_KEY / BINANCE_API_SECRET)")
	}
	return Credentials{APIKey: key, APISecret: secret}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
