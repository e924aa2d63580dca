package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/cart/internal/catalog"
	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/handlers"
	"github.com/hanko-field/cart/internal/platform/auth"
	"github.com/hanko-field/cart/internal/platform/cache"
	"github.com/hanko-field/cart/internal/platform/config"
	pfirestore "github.com/hanko-field/cart/internal/platform/firestore"
	"github.com/hanko-field/cart/internal/platform/idempotency"
	"github.com/hanko-field/cart/internal/platform/jobs"
	"github.com/hanko-field/cart/internal/platform/observability"
	"github.com/hanko-field/cart/internal/platform/requestctx"
	"github.com/hanko-field/cart/internal/platform/secrets"
	"github.com/hanko-field/cart/internal/platform/textutil"
	"github.com/hanko-field/cart/internal/repositories"
	firestoreRepo "github.com/hanko-field/cart/internal/repositories/firestore"
	"github.com/hanko-field/cart/internal/repositories/memory"
	mongoRepo "github.com/hanko-field/cart/internal/repositories/mongo"
	"github.com/hanko-field/cart/internal/services"
)

// cartStore is the cart repository plus the readiness probe every driver exposes.
type cartStore interface {
	repositories.CartRepository
	Ping(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("cart")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics("cart")

	// Firestore backs the cart store and the catalog in the default deployment; the
	// provider only dials when one of them asks for a client.
	var firestoreOpts []pfirestore.ProviderOption
	if cfg.Firebase.CredentialsFile != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(cfg.Firebase.CredentialsFile)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	store, closeStore, err := newCartStore(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer closeStore()

	productCatalog, err := newProductCatalog(cfg, firestoreProvider, metrics)
	if err != nil {
		logger.Fatal("failed to initialise product catalog", zap.Error(err), zap.String("mode", cfg.Catalog.Mode))
	}

	publisher, closePublisher, err := newCheckoutPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise checkout publisher", zap.Error(err), zap.String("driver", cfg.Handoff.Driver))
	}
	defer closePublisher()

	var (
		cartCache        *cache.CartCache
		idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		cartCache = cache.NewCartCache(redisClient,
			cache.WithTTL(cfg.Redis.CacheTTL),
			cache.WithObserver(metrics.ObserveCacheLookup),
		)
		idempotencyStore = idempotency.NewRedisStore(redisClient)
	} else {
		logger.Warn("redis not configured; cart cache disabled and idempotency keys kept in memory")
	}

	pricer, err := services.NewPricingEngine(services.PricingConfig{
		ShippingRates: shippingRates(cfg.Cart.ShippingRates),
		TaxRate:       &cfg.Cart.TaxRate,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}
	coupons, err := services.NewStaticCouponBook(services.DefaultCoupons())
	if err != nil {
		logger.Fatal("failed to initialise coupon book", zap.Error(err))
	}

	cartDeps := services.CartServiceDeps{
		Repository:               store,
		Catalog:                  productCatalog,
		Coupons:                  coupons,
		Pricer:                   pricer,
		NoteSanitizer:            textutil.StripMarkup(bluemonday.StrictPolicy()),
		DefaultCurrency:          cfg.Cart.Currency,
		CartTTL:                  cfg.Cart.TTL,
		RevokeCouponBelowMinimum: cfg.Cart.RevokeCouponBelowMinimum,
		Logger:                   observability.EventLogger(logger.Named("service")),
		Observer:                 metrics.ObserveCartOperation,
	}
	lifecycleDeps := services.CartLifecycleDeps{
		Repository:   store,
		AbandonAfter: cfg.Cart.AbandonAfter,
		BatchSize:    cfg.Cart.LifecycleBatch,
		Logger:       observability.EventLogger(logger.Named("lifecycle")),
		Observer:     metrics.ObserveLifecycle,
	}
	// Typed nils must not leak into the interface fields.
	if publisher != nil {
		cartDeps.Publisher = publisher
	}
	if cartCache != nil {
		cartDeps.Cache = cartCache
		lifecycleDeps.Cache = cartCache
	}

	cartService, err := services.NewCartService(cartDeps)
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}
	lifecycleService, err := services.NewCartLifecycleService(lifecycleDeps)
	if err != nil {
		logger.Fatal("failed to initialise cart lifecycle service", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, cartService,
		handlers.WithCheckoutMiddleware(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminCartHandlers(authenticator, lifecycleService)

	healthOpts := []handlers.HealthOption{handlers.WithHealthVersion(buildVersion(envValues))}
	healthRepo, err := newHealthRepository(store, cartCache, fetcher)
	if err != nil {
		logger.Warn("health: readiness checks disabled", zap.Error(err))
	} else {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(healthRepo))
	}

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLogger(httpLogger, metrics),
			observability.Recovery(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	lifecycleCtx, lifecycleCancel := context.WithCancel(ctx)
	var lifecycleWG sync.WaitGroup
	if cfg.Cart.LifecycleInterval > 0 {
		lifecycleWG.Add(1)
		go func() {
			defer lifecycleWG.Done()
			runLifecycle(lifecycleCtx, logger.Named("lifecycle"), lifecycleService, cfg.Cart.LifecycleInterval)
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("catalog", cfg.Catalog.Mode),
		zap.String("handoff", cfg.Handoff.Driver),
	)
	go func() {
		serverLogger.Info("cart service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	lifecycleCancel()
	lifecycleWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newCartStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (cartStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return memory.NewCartRepository(), noop, nil
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		db, err := mongoRepo.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, noop, err
		}
		disconnect := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(closeCtx)
		}
		repo, err := mongoRepo.NewCartRepository(db)
		if err != nil {
			disconnect()
			return nil, noop, err
		}
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			disconnect()
			return nil, noop, fmt.Errorf("ensure cart indexes: %w", err)
		}
		return repo, disconnect, nil
	case config.StoreFirestore:
		repo, err := firestoreRepo.NewCartRepository(provider)
		if err != nil {
			return nil, noop, err
		}
		return repo, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported cart store %q", cfg.Store.Driver)
	}
}

func newProductCatalog(cfg config.Config, provider *pfirestore.Provider, metrics *observability.Metrics) (services.ProductCatalog, error) {
	switch cfg.Catalog.Mode {
	case config.CatalogModeHTTP:
		return catalog.NewHTTPGateway(catalog.HTTPConfig{
			BaseURL:          cfg.Catalog.BaseURL,
			Timeout:          cfg.Catalog.Timeout,
			FailureThreshold: uint32(cfg.Catalog.BreakerFailures),
			OpenTimeout:      cfg.Catalog.BreakerOpenTimeout,
			OnStateChange: func(name string, _, to gobreaker.State) {
				metrics.SetBreakerState(name, float64(to))
			},
		})
	case config.CatalogModeFirestore:
		products, err := firestoreRepo.NewProductRepository(provider)
		if err != nil {
			return nil, err
		}
		return catalog.NewRepositoryCatalog(products)
	case config.CatalogModeStatic:
		return catalog.LoadStaticCatalog(cfg.Catalog.File)
	default:
		return nil, fmt.Errorf("unsupported catalog mode %q", cfg.Catalog.Mode)
	}
}

// newCheckoutPublisher returns a nil publisher for the "none" driver; checkouts then
// complete with a pending hand-off warning.
func newCheckoutPublisher(ctx context.Context, cfg config.Config) (services.CheckoutPublisher, func(), error) {
	noop := func() {}
	switch cfg.Handoff.Driver {
	case config.HandoffNone:
		return nil, noop, nil
	case config.HandoffPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Handoff.PubSubProject)
		if err != nil {
			return nil, noop, err
		}
		topic := client.Topic(cfg.Handoff.PubSubTopic)
		publisher, err := jobs.NewPubSubCheckoutPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return publisher, func() {
			topic.Stop()
			_ = client.Close()
		}, nil
	case config.HandoffKafka:
		publisher, err := jobs.NewKafkaCheckoutPublisher(cfg.Handoff.KafkaTopic, cfg.Handoff.KafkaBrokers...)
		if err != nil {
			return nil, noop, err
		}
		return publisher, func() { _ = publisher.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported hand-off driver %q", cfg.Handoff.Driver)
	}
}

func newHealthRepository(store cartStore, cartCache *cache.CartCache, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "cartStore",
		Timeout: 1500 * time.Millisecond,
		Check:   store.Ping,
	}}
	if cartCache != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check:    cartCache.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func runLifecycle(ctx context.Context, logger *zap.Logger, lifecycle services.CartLifecycleService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			report, err := lifecycle.MarkAbandoned(runCtx)
			if err != nil {
				logger.Error("mark abandoned failed", zap.Error(err))
			} else if report.Abandoned > 0 {
				logger.Info("carts marked abandoned",
					zap.Int("scanned", report.Scanned),
					zap.Int("abandoned", report.Abandoned),
					zap.Int("skipped", report.Skipped),
				)
			}
			deleted, err := lifecycle.CleanupExpired(runCtx)
			cancel()
			if err != nil {
				logger.Error("expired cart cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("expired carts removed", zap.Int("count", deleted))
			}
		case <-ctx.Done():
			return
		}
	}
}

func shippingRates(raw map[string]int64) map[domain.ShippingMethod]int64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[domain.ShippingMethod]int64, len(raw))
	for method, cost := range raw {
		out[domain.ShippingMethod(strings.ToLower(strings.TrimSpace(method)))] = cost
	}
	return out
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECRET_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields the selected drivers cannot run without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["API_CART_STORE"]), config.StoreMongo) {
		required = append(required, "Mongo.URI")
	}
	if secrets.IsReference(strings.TrimSpace(env["API_REDIS_PASSWORD"])) {
		required = append(required, "Redis.Password")
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
