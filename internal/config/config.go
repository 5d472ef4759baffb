package config

import (
	"log"
	"strings"
	"time"

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

type Engine struct {
	FraudThreshold    float64 `mapstructure:"fraud-threshold"`
	FailureRate       float64 `mapstructure:"failure-rate"`
	MaxRetries        int     `mapstructure:"max-retries"`
	ProcessingDelayMs int     `mapstructure:"processing-delay-ms"`
}

func (e Engine) ProcessingDelay() time.Duration {
	return time.Duration(e.ProcessingDelayMs) * time.Millisecond
}

type Webhook struct {
	TimeoutMs int `mapstructure:"timeout-ms"`
}

func (w Webhook) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentRequests string `mapstructure:"payment-requests"`
	PaymentEvents   string `mapstructure:"payment-events"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Server struct {
	Port string `mapstructure:"port"`
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
	Database Database `mapstructure:"database"`
	Engine   Engine   `mapstructure:"engine"`
	Webhook  Webhook  `mapstructure:"webhook"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("engine.fraud-threshold", 10000)
	viper.SetDefault("engine.failure-rate", 0.2)
	viper.SetDefault("engine.max-retries", 3)
	viper.SetDefault("engine.processing-delay-ms", 3000)
	viper.SetDefault("webhook.timeout-ms", 10_000)
	viper.SetDefault("server.port", "8080")

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
