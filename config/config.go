package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		App       App
		Log       Log
		PG        PG
		Redis     Redis
		Kafka     Kafka
		Outbox    Outbox
		Retry     Retry
		Payment   Payment
		PSP       PSP
		Consumer  Consumer
		Admin     Admin
		Telemetry Telemetry
	}

	App struct {
		InstanceID      string        `env:"APP_INSTANCE_ID" envDefault:"payflow-1" validate:"required"`
		RegionID        int           `env:"APP_REGION_ID" envDefault:"0" validate:"min=0,max=31"`
		ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	}

	PG struct {
		URL          string        `env:"PG_URL,required" validate:"required"`
		PoolMax      int           `env:"PG_POOL_MAX" envDefault:"10" validate:"min=1"`
		ConnAttempts int           `env:"PG_CONN_ATTEMPTS" envDefault:"10" validate:"min=1"`
		ConnTimeout  time.Duration `env:"PG_CONN_TIMEOUT" envDefault:"1s"`
	}

	Redis struct {
		Addr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required,hostname_port"`
		Password     string        `env:"REDIS_PASSWORD"`
		DB           int           `env:"REDIS_DB" envDefault:"0" validate:"min=0"`
		DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
		ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
		WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	}

	Kafka struct {
		Brokers     []string      `env:"KAFKA_BROKERS,required" validate:"required,min=1,dive,hostname_port"`
		ClientID    string        `env:"KAFKA_CLIENT_ID" envDefault:"payflow"`
		Version     string        `env:"KAFKA_VERSION" envDefault:"3.6.0"`
		GroupID     string        `env:"KAFKA_GROUP_ID" envDefault:"payflow-payment-service" validate:"required"`
		TxnPrefix   string        `env:"KAFKA_TXN_PREFIX" envDefault:"payflow" validate:"required"`
		Producers   int           `env:"KAFKA_TXN_PRODUCERS" envDefault:"4" validate:"min=1,max=64"`
		ConnTimeout time.Duration `env:"KAFKA_CONN_TIMEOUT" envDefault:"30s"`
	}

	Outbox struct {
		Limit           int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
		Workers         int           `env:"OUTBOX_WORKERS" envDefault:"2"`
		Interval        time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"200ms"`
		LeaseTTL        time.Duration `env:"OUTBOX_LEASE_TTL" envDefault:"60s"`
		PublishTimeout  time.Duration `env:"OUTBOX_PUBLISH_TIMEOUT" envDefault:"10s"`
		ProcessTimeout  time.Duration `env:"OUTBOX_PROCESS_TIMEOUT" envDefault:"5s"`
		CleanupInterval time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"1h"`
		Retention       time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
	}

	Retry struct {
		PollInterval    time.Duration `env:"RETRY_POLL_INTERVAL" envDefault:"1s"`
		PollBatch       int           `env:"RETRY_POLL_BATCH" envDefault:"1000"`
		ChunkSize       int           `env:"RETRY_CHUNK_SIZE" envDefault:"300"`
		Workers         int           `env:"RETRY_WORKERS" envDefault:"4"`
		PublishTimeout  time.Duration `env:"RETRY_PUBLISH_TIMEOUT" envDefault:"10s"`
		ReclaimInterval time.Duration `env:"RETRY_RECLAIM_INTERVAL" envDefault:"30s"`
		InflightMaxAge  time.Duration `env:"RETRY_INFLIGHT_MAX_AGE" envDefault:"60s"`
	}

	Payment struct {
		MaxRetry      int           `env:"PAYMENT_MAX_RETRY" envDefault:"5" validate:"min=1"`
		BackoffBase   time.Duration `env:"PAYMENT_BACKOFF_BASE" envDefault:"1s"`
		BackoffMax    time.Duration `env:"PAYMENT_BACKOFF_MAX" envDefault:"5m"`
		BackoffJitter time.Duration `env:"PAYMENT_BACKOFF_JITTER" envDefault:"500ms"`
	}

	PSP struct {
		BaseURL           string        `env:"PSP_BASE_URL,required" validate:"required,url"`
		Timeout           time.Duration `env:"PSP_TIMEOUT" envDefault:"2s"`
		BackgroundTimeout time.Duration `env:"PSP_BACKGROUND_TIMEOUT" envDefault:"30s"`
	}

	Consumer struct {
		ProcessTimeout time.Duration `env:"CONSUMER_PROCESS_TIMEOUT" envDefault:"30s"`
	}

	Admin struct {
		Addr string `env:"ADMIN_ADDR" envDefault:":8081" validate:"required"`
	}

	Telemetry struct {
		ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"payflow" validate:"required"`
		Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
		SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1" validate:"gt=0,lte=1"`
	}
)

// New reads the config from the environment. Variables from a .env file in
// the working directory are loaded first when the file exists; variables
// already set win.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config error: .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}
