package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL     string
	RequestTimeout time.Duration

	// IdP
	IDPBaseURL string
	IDPAPIKey  string

	// Social OAuth
	SocialClientID     string
	SocialClientSecret string
	SocialAuthURL      string
	SocialTokenURL     string
	SocialCallbackPort string

	// Token storage
	TokenFilePath string

	// Session
	RefreshMargin time.Duration

	// Rate Limit（アウトバウンドAPIコール, req/sec）
	RateLimitAPI   float64
	RateLimitBurst int

	// Metrics
	MetricsPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = os.Getenv("API_BASE_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.IDPBaseURL = os.Getenv("IDP_BASE_URL")
	if cfg.IDPBaseURL == "" {
		missing = append(missing, "IDP_BASE_URL")
	}

	cfg.IDPAPIKey = os.Getenv("IDP_API_KEY")
	if cfg.IDPAPIKey == "" {
		missing = append(missing, "IDP_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.SocialClientID = getEnvString("SOCIAL_CLIENT_ID", "")
	cfg.SocialClientSecret = getEnvString("SOCIAL_CLIENT_SECRET", "")
	cfg.SocialAuthURL = getEnvString("SOCIAL_AUTH_URL", "https://accounts.google.com/o/oauth2/auth")
	cfg.SocialTokenURL = getEnvString("SOCIAL_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.SocialCallbackPort = getEnvString("SOCIAL_CALLBACK_PORT", "8765")
	cfg.TokenFilePath = getEnvString("TOKEN_FILE_PATH", defaultTokenFilePath())
	cfg.RefreshMargin = getEnvDuration("REFRESH_MARGIN", 5*time.Minute)
	cfg.RateLimitAPI = getEnvFloat("RATE_LIMIT_API", 10.0)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 20)
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")

	return cfg, nil
}

// defaultTokenFilePath はベアラートークンの既定の永続化パスを返す。
// XDG_STATE_HOMEがあればそれを優先し、なければホームディレクトリ配下を使う。
func defaultTokenFilePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "fitgate", "credential.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fitgate", "credential.json")
	}
	return filepath.Join(home, ".local", "state", "fitgate", "credential.json")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
