package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gym-coach-bot/internal/models"
)

type Config struct {
	App struct {
		Env string
	}
	DB struct {
		Host         string
		Port         string
		User         string
		Password     string
		DBName       string
		SSLMode      string
		MaxOpenConns int
		MaxIdleConns int
		ConnLifetime time.Duration
	}
	GPT struct {
		APIKey string
		Model  string
	}
	Ton struct {
		APIURL string
		APIKey string
	}
	Payment struct {
		PendingTTL   time.Duration
		PollInterval time.Duration
		PollTimeout  time.Duration
	}
	Generation struct {
		ClaimTTL     time.Duration
		WaitInterval time.Duration
	}
	Server struct {
		Port    string
		Metrics bool
	}
	ShutdownTimeout time.Duration
	Tenants         []models.Tenant
}

// DSN builds the postgres connection string, empty when no host is set
// (the bot then runs on the in-memory store).
func (c *Config) DSN() string {
	if c.DB.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode,
	)
}

// Load reads config.yaml plus environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.gym-coach-bot")

	v.SetDefault("App.Env", "prod")
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Server.Metrics", true)
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Ton.APIURL", "https://toncenter.com/api/v2")
	v.SetDefault("Payment.PendingTTL", 24*time.Hour)
	v.SetDefault("Payment.PollInterval", 15*time.Second)
	v.SetDefault("Payment.PollTimeout", 10*time.Minute)
	v.SetDefault("Generation.ClaimTTL", 3*time.Minute)
	v.SetDefault("Generation.WaitInterval", 500*time.Millisecond)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// No config file: fall back to environment variables with a single
		// tenant, the way the first deployments ran.
		cfg := &Config{}
		cfg.App.Env = getEnvOr("APP_ENV", "prod")
		cfg.DB.Host = os.Getenv("DB_HOST")
		cfg.DB.Port = getEnvOr("DB_PORT", "5432")
		cfg.DB.User = getEnvOr("DB_USER", "postgres")
		cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
		cfg.DB.DBName = getEnvOr("DB_NAME", "gym_coach_bot")
		cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
		cfg.DB.MaxOpenConns = 20
		cfg.DB.MaxIdleConns = 10
		cfg.DB.ConnLifetime = 5 * time.Minute
		cfg.GPT.APIKey = os.Getenv("GPT_API_KEY")
		cfg.GPT.Model = getEnvOr("GPT_MODEL", "gpt-4")
		cfg.Ton.APIURL = getEnvOr("TON_API_URL", "https://toncenter.com/api/v2")
		cfg.Ton.APIKey = os.Getenv("TON_API_KEY")
		cfg.Payment.PendingTTL = 24 * time.Hour
		cfg.Payment.PollInterval = 15 * time.Second
		cfg.Payment.PollTimeout = 10 * time.Minute
		cfg.Generation.ClaimTTL = 3 * time.Minute
		cfg.Generation.WaitInterval = 500 * time.Millisecond
		cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
		cfg.Server.Metrics = true
		cfg.ShutdownTimeout = 10 * time.Second
		cfg.Tenants = []models.Tenant{defaultTenantFromEnv()}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Resolve ${ENV_VAR} placeholders in secret-bearing fields.
	cfg.GPT.APIKey = expandEnv(cfg.GPT.APIKey)
	cfg.Ton.APIKey = expandEnv(cfg.Ton.APIKey)
	for i := range cfg.Tenants {
		cfg.Tenants[i].BotToken = expandEnv(cfg.Tenants[i].BotToken)
		cfg.Tenants[i].BankCard = expandEnv(cfg.Tenants[i].BankCard)
		cfg.Tenants[i].TonWallet = expandEnv(cfg.Tenants[i].TonWallet)
	}

	if len(cfg.Tenants) == 0 {
		cfg.Tenants = []models.Tenant{defaultTenantFromEnv()}
	}

	return &cfg, nil
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${"))
	}
	return value
}

// Validate checks the fields the process cannot run without.
func (c *Config) Validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("no tenants configured")
	}
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		seen[t.ID] = true
		if t.BotToken == "" {
			return fmt.Errorf("tenant %q: bot_token is not configured", t.ID)
		}
	}
	return nil
}

func defaultTenantFromEnv() models.Tenant {
	adminChatID, _ := parseInt64(os.Getenv("ADMIN_CHAT_ID"))
	return models.Tenant{
		ID:             getEnvOr("TENANT_ID", "default_gym"),
		Name:           getEnvOr("TENANT_NAME", "باشگاه نمونه"),
		BotToken:       os.Getenv("TELEGRAM_TOKEN"),
		AdminChatID:    adminChatID,
		WelcomeMessage: getEnvOr("WELCOME_MESSAGE", "به ربات خوش آمدید! 🏋️‍♂️"),
		PriceToman:     500000,
		PriceTon:       5.0,
		BankCard:       getEnvOr("BANK_CARD_NUMBER", "----"),
		CardOwner:      getEnvOr("CARD_OWNER_NAME", "----"),
		TonWallet:      getEnvOr("TON_WALLET", "----"),
	}
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
