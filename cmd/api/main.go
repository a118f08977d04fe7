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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Sad0asc0Sh/user-sub000/internal/handlers"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/config"
	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/idempotency"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/jobs"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/lease"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/observability"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/secrets"
	platformstorage "github.com/Sad0asc0Sh/user-sub000/internal/platform/storage"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
	firestoreRepo "github.com/Sad0asc0Sh/user-sub000/internal/repositories/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

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

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	settings := cfg.StoreSettings()

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout))
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var redisClient redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	eventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	notificationsTopic := pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
	defer eventsTopic.Stop()
	defer notificationsTopic.Stop()

	eventPublisher, err := jobs.NewPubSubEventPublisher(eventsTopic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	notificationSink, err := jobs.NewPubSubNotificationSink(notificationsTopic)
	if err != nil {
		logger.Fatal("failed to initialise notification sink", zap.Error(err))
	}

	var evidenceStore services.EvidenceStorage
	var storageClient *cloudstorage.Client
	if strings.TrimSpace(cfg.Storage.EvidenceBucket) != "" {
		storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		signerKey := strings.TrimSpace(cfg.Storage.SignedURLKey)
		if signerKey == "" {
			logger.Fatal("storage signer key is required when an evidence bucket is configured")
		}
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		store, err := platformstorage.NewEvidenceStore(signer, cfg.Storage.EvidenceBucket,
			platformstorage.WithUploadTTL(cfg.Storage.SignedURLTTL))
		if err != nil {
			logger.Fatal("failed to initialise evidence store", zap.Error(err))
		}
		evidenceStore = store
	} else {
		logger.Warn("storage: evidence bucket not configured; RMA evidence uploads are disabled")
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	contacts := auth.NewUserDirectory(firebaseVerifier)

	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	couponRepo, err := firestoreRepo.NewCouponRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise coupon repository", zap.Error(err))
	}
	shippingRepo, err := firestoreRepo.NewShippingMethodRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise shipping method repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	rmaRepo, err := firestoreRepo.NewRMARepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise rma repository", zap.Error(err))
	}

	paymentManager, err := newPaymentManager(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	stripeGateway, _ := paymentManager.Gateway(payments.StripeGatewayID)
	webhookParser, _ := stripeGateway.(handlers.WebhookParser)

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: couponRepo,
		Clock:   time.Now,
		Logger:  observability.NewEventLogger(logger.Named("coupon")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}

	pricing, err := services.NewPricingCalculator(services.PricingCalculatorDeps{
		ShippingMethods: shippingRepo,
		Coupons:         couponService,
		Settings:        settings,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing calculator", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:         cartRepo,
		Products:      productRepo,
		Pricing:       pricing,
		Contacts:      contacts,
		Notifications: notificationSink,
		Settings:      settings,
		StorefrontURL: cfg.Server.StorefrontURL,
		Clock:         time.Now,
		Logger:        observability.NewEventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Carts:    cartRepo,
		Products: productRepo,
		Pricing:  pricing,
		Coupons:  couponService,
		Events:   eventPublisher,
		Settings: settings,
		Clock:    time.Now,
		Logger:   observability.NewEventLogger(logger.Named("order")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        orderRepo,
		Gateways:      paymentManager,
		Contacts:      contacts,
		Events:        eventPublisher,
		Retry:         payments.DefaultRetryPolicy(cfg.Payments.Timeout),
		PublicBaseURL: cfg.Server.PublicBaseURL,
		StorefrontURL: cfg.Server.StorefrontURL,
		Clock:         time.Now,
		Logger:        observability.NewEventLogger(logger.Named("payment")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	rmaService, err := services.NewRMAService(services.RMAServiceDeps{
		RMAs:     rmaRepo,
		Orders:   orderRepo,
		Evidence: evidenceStore,
		Events:   eventPublisher,
		Settings: settings,
		Clock:    time.Now,
		Logger:   observability.NewEventLogger(logger.Named("rma")),
	})
	if err != nil {
		logger.Fatal("failed to initialise rma service", zap.Error(err))
	}

	var locker lease.Locker = lease.NewFirestoreLocker(firestoreProvider)
	if redisClient != nil {
		locker = lease.NewRedisLocker(redisClient)
	}
	sweepService, err := services.NewSweepService(services.SweepServiceDeps{
		Carts:         cartRepo,
		Orders:        orderRepo,
		OrderService:  orderService,
		Leases:        locker,
		Contacts:      contacts,
		Notifications: notificationSink,
		Settings:      settings,
		StorefrontURL: cfg.Server.StorefrontURL,
		LeaseTTL:      cfg.Sweeps.LeaseTTL,
		BatchSize:     cfg.Sweeps.BatchSize,
		Clock:         time.Now,
		Logger:        observability.NewEventLogger(logger.Named("sweep")),
	})
	if err != nil {
		logger.Fatal("failed to initialise sweep service", zap.Error(err))
	}

	systemService, err := newSystemService(cfg, firestoreClient, fetcher, redisClient, eventsTopic, storageClient, paymentManager, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	var idempotencyStore idempotency.Store
	var firestoreIdempotency *idempotency.FirestoreStore
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient)
	} else {
		firestoreIdempotency = idempotency.NewFirestoreStore(firestoreClient, "")
		idempotencyStore = firestoreIdempotency
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(requestctx.WithLogger(context.Background(), logger))
	var backgroundWG sync.WaitGroup
	if firestoreIdempotency != nil && cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		runEvery(backgroundCtx, &backgroundWG, cfg.Idempotency.CleanupInterval, func(ctx context.Context) {
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			removed, err := firestoreIdempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
				return
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		})
	}
	if cfg.Sweeps.Enabled {
		startSweeps(backgroundCtx, &backgroundWG, sweepService, cfg.Sweeps.Interval, logger.Named("sweep"))
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, cartService,
		handlers.WithReminderRateLimit(cfg.RateLimits.RemindersPerMinute))
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, paymentService,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithPaymentRateLimit(cfg.RateLimits.PaymentsPerMinute))
	paymentHandlers := handlers.NewPaymentHandlers(paymentService, webhookParser, cfg.Server.StorefrontURL)
	rmaHandlers := handlers.NewRMAHandlers(authenticator, rmaService)
	sweepHandlers := handlers.NewSweepHandlers(sweepService)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		httpx.LocaleMiddleware,
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append([]func(http.Handler) http.Handler{newCORS(cfg).Handler}, middlewares...)
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.ReturnRoutes),
		handlers.WithRMARoutes(rmaHandlers.Routes),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
		handlers.WithInternalRoutes(sweepHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	} else {
		logger.Warn("auth: OIDC not configured; internal sweep routes are disabled")
		opts = append(opts, handlers.WithInternalMiddlewares(denyAll))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening", zap.Strings("gateways", paymentManager.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	eventLogger := payments.Logger(observability.NewEventLogger(logger))
	var gateways []payments.Gateway
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        eventLogger,
			Clock:         time.Now,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, stripeGateway)
	}
	if strings.TrimSpace(cfg.PSP.PayPalClientID) != "" && strings.TrimSpace(cfg.PSP.PayPalSecret) != "" {
		paypalGateway, err := payments.NewPayPalGateway(payments.PayPalConfig{
			ClientID: cfg.PSP.PayPalClientID,
			Secret:   cfg.PSP.PayPalSecret,
			BaseURL:  cfg.PSP.PayPalBaseURL,
			Logger:   eventLogger,
			Clock:    time.Now,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, paypalGateway)
	}
	return payments.NewManager(gateways,
		payments.WithDefaultGateway(cfg.Payments.DefaultGateway),
		payments.WithEnabledGateways(cfg.Payments.EnabledGateways...),
	)
}

func newCORS(cfg config.Config) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language", cfg.Idempotency.Header},
		ExposedHeaders:   []string{"ETag", "Location", "Retry-After", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "internal routes require OIDC", http.StatusUnauthorized))
	})
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(
	cfg config.Config,
	client *firestore.Client,
	fetcher *secrets.Fetcher,
	redisClient redis.UniversalClient,
	topic *pubsub.Topic,
	storageClient *cloudstorage.Client,
	gateways services.GatewayLister,
	build services.BuildInfo,
) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 5)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://api-healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if storageClient != nil && strings.TrimSpace(cfg.Storage.EvidenceBucket) != "" {
		bucket := storageClient.Bucket(cfg.Storage.EvidenceBucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Gateways:         gateways,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(adapter),
		auth.WithAllowedCallers(cfg.Security.OIDC.AllowedCallers...),
	)
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the credentials each enabled gateway cannot start without.
func requiredSecretNames(env map[string]string) []string {
	gateways := strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_ENABLED_GATEWAYS"]))
	if gateways == "" {
		gateways = strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_DEFAULT_GATEWAY"]))
	}
	if gateways == "" {
		gateways = payments.StripeGatewayID
	}

	var required []string
	for _, id := range strings.Split(gateways, ",") {
		switch strings.TrimSpace(id) {
		case payments.StripeGatewayID:
			required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
		case payments.PayPalGatewayID:
			required = append(required, "PSP.PayPalSecret")
		}
	}
	if strings.TrimSpace(env["API_STORAGE_EVIDENCE_BUCKET"]) != "" {
		required = append(required, "Storage.SignedURLKey")
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
