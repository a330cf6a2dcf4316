package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		Storage:     StoragePostgres,
		DatabaseURL: "postgres://localhost/marketplace",
		Pricing:     PricingConfig{TaxRate: "0.10", ServiceFee: "2.00", DeliveryFee: "3.50"},
		Events: EventsConfig{
			Driver:   EventsLog,
			Kafka:    KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "orders"},
			RabbitMQ: RabbitMQConfig{URL: "amqp://localhost", Exchange: "events"},
			Channel:  "events",
		},
		Redis:     RedisConfig{DedupTTL: time.Hour},
		RateLimit: RateLimitConfig{Max: 60, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
		Graceful:  GracefulConfig{ReadinessDelay: time.Second, ShutdownTimeout: time.Second},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory without database", mutate: func(c *Config) { c.Storage = StorageMemory; c.DatabaseURL = "" }},
		{name: "postgres without database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "sqlite" }, wantErr: `unknown storage "sqlite"`},
		{name: "kafka", mutate: func(c *Config) { c.Events.Driver = EventsKafka }},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Driver = EventsKafka; c.Events.Kafka.Brokers = nil }, wantErr: "kafka events"},
		{name: "rabbitmq without url", mutate: func(c *Config) { c.Events.Driver = EventsRabbitMQ; c.Events.RabbitMQ.URL = "" }, wantErr: "rabbitmq events"},
		{name: "redis without address", mutate: func(c *Config) { c.Events.Driver = EventsRedis }, wantErr: "redis events"},
		{name: "redis", mutate: func(c *Config) { c.Events.Driver = EventsRedis; c.Redis.Addr = "localhost:6379" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Events.Driver = "nats" }, wantErr: `unknown events driver "nats"`},
		{name: "bad tax rate", mutate: func(c *Config) { c.Pricing.TaxRate = "ten" }, wantErr: "parse tax rate"},
		{name: "rate limit disabled", mutate: func(c *Config) { c.RateLimit = RateLimitConfig{} }},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimit.Max = -1 }, wantErr: "rate limit max"},
		{name: "rate limit without window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, wantErr: "rate limit window"},
		{name: "negative fee", mutate: func(c *Config) { c.Pricing.DeliveryFee = "-1" }, wantErr: "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr, Storage: "Postgres", Events: EventsConfig{Driver: "KAFKA"}}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.Addr)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, EventsKafka, cfg.Events.Driver)

	explicit := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "127.0.0.1:7000", explicit.Addr)
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
}

func TestPricingConfig(t *testing.T) {
	cfg, err := PricingConfig{TaxRate: "0.08", ServiceFee: "1.50", DeliveryFee: "4"}.Config()
	require.NoError(t, err)
	assert.Equal(t, "0.08", cfg.TaxRate.String())
	assert.Equal(t, "1.50", cfg.ServiceFee.StringFixed(2))
	assert.Equal(t, "4.00", cfg.DeliveryFee.StringFixed(2))
}

func TestNewPublisher(t *testing.T) {
	cfg := validConfig()

	p, closer, err := newPublisher(&cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.NoError(t, closer.Close())

	cfg.Events.Driver = EventsRedis
	_, _, err = newPublisher(&cfg, nil)
	assert.Error(t, err)
}

func TestOpenStores_MemoryLoadsDemo(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = StorageMemory

	st, closeFn, err := openStores(t.Context(), zap.NewNop(), &cfg, health.New())
	require.NoError(t, err)
	defer closeFn()

	m, err := st.merchants.GetByID(t.Context(), "m-burger-barn")
	require.NoError(t, err)
	assert.True(t, m.Active)

	c, err := st.coupons.FindByCode(t.Context(), "WELCOME10")
	require.NoError(t, err)
	assert.True(t, c.IsActive)
}

func TestMiddlewares_RateLimitAndCORS(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		method    string
		wantCodes []int
	}{
		{name: "writes limited", max: 2, method: http.MethodPost, wantCodes: []int{200, 200, 429}},
		{name: "reads not counted", max: 1, method: http.MethodGet, wantCodes: []int{200, 200, 200}},
		{name: "limit disabled", max: 0, method: http.MethodPost, wantCodes: []int{200, 200, 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.RateLimit.Max = tt.max
			h := httpmiddleware.Wrap(
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
				middlewares(t.Context(), &cfg, tracenoop.NewTracerProvider(), noop.NewMeterProvider(), propagation.TraceContext{})...,
			)

			for i, want := range tt.wantCodes {
				req := httptest.NewRequest(tt.method, "/api/orders", nil)
				req.RemoteAddr = "10.1.1.1:4000"
				req.Header.Set("Origin", "https://shop.example")
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)

				assert.Equal(t, want, w.Code, "request %d", i+1)
				assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
				assert.NotEmpty(t, w.Header().Get(httpmiddleware.HeaderRequestID))
			}
		})
	}
}
