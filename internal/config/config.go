// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	ServiceToken            string `yaml:"service_token" env:"SERVICE_TOKEN"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	Provider                Provider   `yaml:"provider"`
	Webhook                 Webhook    `yaml:"webhook"`
	Tiers                   Tiers      `yaml:"tiers"`
	Allotments              Allotments `yaml:"allotments"`
	Limits                  Limits     `yaml:"limits"`
	Costs                   Costs      `yaml:"costs"`
	Ledger                  Ledger     `yaml:"ledger"`
	Reconciler              Reconciler `yaml:"reconciler"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP    string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP    time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RequestsPerSec float64       `yaml:"requests_per_sec" env-default:"50"`
	Burst          int           `yaml:"burst" env-default:"100"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis    string        `yaml:"addressredis"`
	Password        string        `yaml:"password" env:"REDIS_PASSWORD"`
	User            string        `yaml:"user"`
	DB              int           `yaml:"db"`
	MaxRetries      int           `yaml:"max_retries"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	TimeoutRedis    time.Duration `yaml:"timeoutredis"`
	SubscriptionTTL time.Duration `yaml:"subscription_ttl" env-default:"10m"`
}

// JWTToken структура для проверки jwt-токена вызывающей стороны
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// RabbitMQ структура для подключения к брокеру доменных событий
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"2s"`
	Exchange           string        `yaml:"exchange" env-default:"billing"`
}

// Provider настройки REST-клиента платёжного провайдера
type Provider struct {
	APIURL     string        `yaml:"api_url" env-default:"https://api.creem.io"`
	APIKey     string        `yaml:"api_key" env:"PROVIDER_API_KEY"`
	Timeout    time.Duration `yaml:"timeout" env-default:"10s"`
	SuccessURL string        `yaml:"success_url"`
}

// Webhook настройки приёма вебхуков
type Webhook struct {
	Secret      string        `yaml:"secret" env:"WEBHOOK_SECRET"`
	ClaimLease  time.Duration `yaml:"claim_lease" env-default:"2m"`
	MaxRetries  int           `yaml:"max_retries" env-default:"3"`
	ReplayBatch int           `yaml:"replay_batch" env-default:"100"`
}

// Product строка таблицы сопоставления идентификатора продукта тарифу
type Product struct {
	ID    string `yaml:"id"`
	Tier  string `yaml:"tier"`
	Cycle string `yaml:"cycle"`
}

// Tiers настройки разрешения тарифов
type Tiers struct {
	Products []Product `yaml:"products"`
	Prefixes []string  `yaml:"prefixes"`
}

// CycleAllotment ежемесячный и ежегодный объём баллов тарифа
type CycleAllotment struct {
	Monthly int64 `yaml:"monthly"`
	Yearly  int64 `yaml:"yearly"`
}

// Allotments объём баллов, начисляемых за оплаченный период
type Allotments struct {
	Pro     CycleAllotment `yaml:"pro"`
	ProPlus CycleAllotment `yaml:"pro_plus"`
}

// TierLimit дневной и месячный лимит генераций; 0 означает отсутствие лимита
type TierLimit struct {
	Daily   int `yaml:"daily"`
	Monthly int `yaml:"monthly"`
}

// TrialLimits лимиты пробного периода
type TrialLimits struct {
	Days         int `yaml:"days" env-default:"7"`
	ProDaily     int `yaml:"pro_daily" env-default:"4"`
	ProPlusDaily int `yaml:"pro_plus_daily" env-default:"6"`
}

// Limits лимиты генераций по тарифам
type Limits struct {
	Free    TierLimit   `yaml:"free"`
	Pro     TierLimit   `yaml:"pro"`
	ProPlus TierLimit   `yaml:"pro_plus"`
	Trial   TrialLimits `yaml:"trial"`
}

// Costs стоимость генерации в баллах по виду, с переопределением по тарифу
type Costs struct {
	Default map[string]int64            `yaml:"default"`
	PerTier map[string]map[string]int64 `yaml:"per_tier"`
}

// Ledger настройки кредитного журнала
type Ledger struct {
	MaxRetries     uint64        `yaml:"max_retries" env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env-default:"20ms"`
	HistoryLimit   int           `yaml:"history_limit" env-default:"50"`
}

// Reconciler расписание фоновых проверок целостности
type Reconciler struct {
	AuditSchedule  string `yaml:"audit_schedule" env-default:"*/15 * * * *"`
	ExpirySchedule string `yaml:"expiry_schedule" env-default:"5 * * * *"`
	ReplaySchedule string `yaml:"replay_schedule" env-default:"@every 5m"`
	BatchSize      int    `yaml:"batch_size" env-default:"500"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг по пути и проверяет обязательные секции.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность таблиц тарифов и лимитов.
func (c *Config) Validate() error {
	for _, p := range c.Tiers.Products {
		switch p.Tier {
		case "pro", "pro_plus":
		default:
			return fmt.Errorf("product %q: unsupported tier %q", p.ID, p.Tier)
		}
		switch p.Cycle {
		case "", "monthly", "yearly":
		default:
			return fmt.Errorf("product %q: unsupported cycle %q", p.ID, p.Cycle)
		}
	}
	if c.Limits.Trial.Days <= 0 {
		return fmt.Errorf("limits.trial.days must be positive")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"RabbitMQ:\n"+
			"  Exchange: %s\n"+
			"Provider:\n"+
			"  APIURL: %s\n"+
			"Tiers:\n"+
			"  Products: %d\n"+
			"Limits:\n"+
			"  Free: %d/day %d/month\n"+
			"  Trial: %d days\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.Exchange,
		c.Provider.APIURL,
		len(c.Tiers.Products),
		c.Limits.Free.Daily,
		c.Limits.Free.Monthly,
		c.Limits.Trial.Days,
	)
}
