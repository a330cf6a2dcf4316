package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/pricing"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/uow"
	"github.com/xenking/marketplace/internal/events"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/redisx"
	"github.com/xenking/marketplace/internal/repository"
	"github.com/xenking/marketplace/internal/seed"
	"github.com/xenking/marketplace/internal/storage/memory"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// stores is the set of repositories sharing one transaction boundary.
type stores struct {
	merchants merchant.Repository
	products  product.Repository
	coupons   coupon.Repository
	orders    order.Repository
	tx        uow.UnitOfWork
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("events", cfg.Events.Driver),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, closeStores, err := openStores(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStores()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = redisx.New(ctx, cfg.Redis.Addr); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	var dedup redisx.Deduper = redisx.NewMemoryDeduper(cfg.Redis.DedupTTL)
	if rdb != nil {
		dedup = redisx.NewRedisDeduper(rdb, cfg.Redis.DedupTTL)
	}

	publisher, closePublisher, err := newPublisher(cfg, rdb)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePublisher.Close(); err != nil {
			lg.Warn("Close event publisher", zap.Error(err))
		}
	}()

	pricingCfg, err := cfg.Pricing.Config()
	if err != nil {
		return err
	}

	resolver := coupon.NewResolver(st.coupons, st.tx,
		coupon.WithMeter(m.MeterProvider().Meter("marketplace/coupon")),
	)
	orderService, err := order.NewService(order.Deps{
		Orders:    st.orders,
		Products:  st.products,
		Merchants: st.merchants,
		Coupons:   resolver,
		Pricing:   pricing.NewEngine(pricingCfg),
		Tx:        st.tx,
		Events:    publisher,
	},
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.New(orderService, coupon.NewManager(st.coupons, st.tx), resolver, dedup)
	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpmiddleware.Wrap(router, middlewares(ctx, cfg, m.TracerProvider(), m.MeterProvider(), m.TextMapPropagator())...),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// middlewares builds the chain around the router, outermost first.
func middlewares(
	ctx context.Context,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	prop propagation.TextMapPropagator,
) []httpmiddleware.Middleware {
	chain := []httpmiddleware.Middleware{
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("marketplace-api", tp, mp, prop),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins:     cfg.CORS.Origins,
			Headers:     []string{"Content-Type", httpmiddleware.HeaderRequestID},
			Expose:      []string{"Location", httpmiddleware.HeaderRequestID},
			Credentials: cfg.CORS.AllowCredentials,
			MaxAge:      86400,
		}),
	}
	if cfg.RateLimit.Max > 0 {
		chain = append(chain, httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   httpmiddleware.WritesOnly,
		}))
	}
	return chain
}

func openStores(ctx context.Context, lg *zap.Logger, cfg *Config, healthSvc *health.Health) (*stores, func(), error) {
	if cfg.Storage == StorageMemory {
		s := memory.New()
		if err := loadDemo(ctx, s); err != nil {
			return nil, nil, errors.Wrap(err, "load demo data")
		}
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &stores{
			merchants: s.Merchants(),
			products:  s.Products(),
			coupons:   s.Coupons(),
			orders:    s.Orders(),
			tx:        s,
		}, func() {}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if cfg.Migrate {
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
	}
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))

	db := repository.NewDB(pool)
	return &stores{
		merchants: repository.NewMerchantRepository(db),
		products:  repository.NewProductRepository(db),
		coupons:   repository.NewCouponRepository(db),
		orders:    repository.NewOrderRepository(db),
		tx:        db,
	}, pool.Close, nil
}

func loadDemo(ctx context.Context, s *memory.Store) error {
	data := seed.Demo(time.Now())
	for _, m := range data.Merchants {
		s.AddMerchant(m)
	}
	for _, p := range data.Products {
		s.AddProduct(p)
	}
	for i := range data.Coupons {
		if err := s.Coupons().Create(ctx, &data.Coupons[i]); err != nil {
			return errors.Wrapf(err, "coupon %s", data.Coupons[i].Code)
		}
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newPublisher builds the configured event publisher. The returned closer
// flushes and releases its connection.
func newPublisher(cfg *Config, rdb *redis.Client) (order.Publisher, io.Closer, error) {
	nop := closerFunc(func() error { return nil })
	switch cfg.Events.Driver {
	case EventsKafka:
		p := events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		return p, p, nil
	case EventsRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.Events.RabbitMQ.URL, cfg.Events.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect rabbitmq")
		}
		return p, p, nil
	case EventsRedis:
		if rdb == nil {
			return nil, nil, errors.New("redis events need a redis address")
		}
		return events.NewRedisPublisher(rdb, cfg.Events.Channel), nop, nil
	default:
		return events.LogPublisher{}, nop, nil
	}
}
