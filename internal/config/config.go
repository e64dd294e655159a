package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Provider struct {
	BaseURL       string `mapstructure:"base-url"`
	APIKey        string `mapstructure:"api-key"`
	Secret        string `mapstructure:"secret"`
	WebhookSecret string `mapstructure:"webhook-secret"`
	TimeoutMs     int    `mapstructure:"timeout-ms"`
	ExpiryMinutes int    `mapstructure:"expiry-minutes"`
}

type Providers struct {
	Card     Provider `mapstructure:"card"`
	InstaPay Provider `mapstructure:"instapay"`
	VodaCash Provider `mapstructure:"vodacash"`
}

type Commission struct {
	PlatformRate       string `mapstructure:"platform-rate"`
	ProcessingRate     string `mapstructure:"processing-rate"`
	ProcessingFixedFee string `mapstructure:"processing-fixed-fee"`
	MinorUnitDigits    int32  `mapstructure:"minor-unit-digits"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RetryDelayMs       int `mapstructure:"retry-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Sweeper struct {
	IntervalMs int `mapstructure:"interval-ms"`
}

type SMS struct {
	BaseURL   string `mapstructure:"base-url"`
	APIKey    string `mapstructure:"api-key"`
	SenderID  string `mapstructure:"sender-id"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type Payout struct {
	BaseURL     string `mapstructure:"base-url"`
	APIKey      string `mapstructure:"api-key"`
	TimeoutMs   int    `mapstructure:"timeout-ms"`
	Parallelism int    `mapstructure:"parallelism"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Server     Server     `mapstructure:"server"`
	Providers  Providers  `mapstructure:"providers"`
	Commission Commission `mapstructure:"commission"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Outbox     Outbox     `mapstructure:"outbox"`
	Sweeper    Sweeper    `mapstructure:"sweeper"`
	SMS        SMS        `mapstructure:"sms"`
	Payout     Payout     `mapstructure:"payout"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional, used for local development only
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("payment")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
