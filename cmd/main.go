package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/handlers"
	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/providers"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/services"
	"golang-pos-backend/pkg/cache"
	"golang-pos-backend/pkg/database"
	"golang-pos-backend/pkg/identity"
	"golang-pos-backend/pkg/messaging"
	"golang-pos-backend/pkg/metrics"
)

func main() {
	// Load configuration
	config := configs.LoadConfig()

	logger := newLogger(config.Log.Level)

	// Set Gin mode
	gin.SetMode(config.Server.Mode)

	// Initialize database; refuses to start against the wrong schema version
	db, err := database.NewDatabase(config.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(config.Redis.URL, config.Redis.Password, config.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisCache.Close()

	// Initialize Kafka event mirror
	kafkaProducer := messaging.NewKafkaProducer(config.Kafka.Brokers)
	defer kafkaProducer.Close()

	// Metrics registry and WebSocket hub
	m := metrics.New()
	hub := realtime.NewHub(m, logger)

	// Identity provider client
	verifier := identity.NewVerifier(config.Identity, redisCache, logger)

	// Payment providers, cheapest first by fee at selection time
	registry := providers.NewRegistry(
		providers.NewQRPayProvider(config.Providers.QRPay, config.Deadlines.Provider),
		providers.NewSumUpProvider(config.Providers.SumUp, config.Deadlines.Provider),
		providers.NewStripeProvider(config.Providers.Stripe, config.Deadlines.Provider),
		providers.NewApplePayProvider(config.Providers.ApplePay, config.Deadlines.Provider),
	)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	platformRepo := repositories.NewPlatformRepository(db)
	restaurantRepo := repositories.NewRestaurantRepository(db)
	categoryRepo := repositories.NewCategoryRepository(db)
	productRepo := repositories.NewProductRepository(db)
	orderRepo := repositories.NewOrderRepository(db)
	intentRepo := repositories.NewPaymentIntentRepository(db)
	paymentRepo := repositories.NewPaymentRepository(db)
	commissionRepo := repositories.NewCommissionRepository(db)
	inventoryRepo := repositories.NewInventoryRepository(db)

	// Initialize services
	events := services.NewEventPublisher(hub, kafkaProducer, m, logger)
	idempotencyStore := services.NewIdempotencyStore(redisCache, logger)
	authService := services.NewAuthService(verifier, db, userRepo, config.Identity.PlatformOwnerEmails, logger)
	restaurantService := services.NewRestaurantService(db, restaurantRepo, userRepo, platformRepo, logger)
	menuService := services.NewMenuService(db, restaurantRepo, categoryRepo, productRepo, redisCache, m, logger)
	inventoryService := services.NewInventoryService(db, inventoryRepo, productRepo, events, logger)
	orderService := services.NewOrderService(db, orderRepo, productRepo, restaurantRepo, intentRepo, inventoryService, events, m, logger)
	paymentService := services.NewPaymentService(db, orderRepo, intentRepo, paymentRepo, commissionRepo, restaurantRepo,
		registry, config.Commission, redisCache, events, m, config.Deadlines.Provider, logger)
	platformService := services.NewPlatformService(db, restaurantRepo, commissionRepo, registry, logger)

	// Background sweeps: intent expiry, automatic opening hours, archival
	sweeper := services.NewSweeperService(db, paymentService, restaurantRepo, orderRepo, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(authService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	restaurantHandler := handlers.NewRestaurantHandler(restaurantService)
	menuHandler := handlers.NewMenuHandler(menuService)
	orderHandler := handlers.NewOrderHandler(orderService, idempotencyStore)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	inventoryHandler := handlers.NewInventoryHandler(inventoryService, idempotencyStore)
	platformHandler := handlers.NewPlatformHandler(platformService)
	wsHandler := handlers.NewWSHandler(hub, authService, config.CORS.Origins, logger)
	healthHandler := handlers.NewHealthHandler(m.Handler())
	healthHandler.AddDependency("database", db)
	healthHandler.AddDependency("redis", redisCache)
	healthHandler.AddDependency("kafka", kafkaProducer)

	// Initialize Gin router
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.RecoveryMiddleware(logger),
		middleware.CORSMiddleware(config.CORS),
		middleware.MetricsMiddleware(m),
	)

	// Health, metrics and the event stream live outside the versioned prefix
	healthHandler.RegisterRoutes(router, authMiddleware.MetricsAccess())
	wsHandler.RegisterRoutes(router)

	// API routes
	api := router.Group("/api/v1", middleware.DeadlineMiddleware(config.Deadlines.Request))

	authHandler.RegisterRoutes(api, authMiddleware)
	restaurantHandler.RegisterRoutes(api, authMiddleware)
	menuHandler.RegisterRoutes(api, authMiddleware)
	orderHandler.RegisterRoutes(api, authMiddleware)
	paymentHandler.RegisterRoutes(api, authMiddleware)
	inventoryHandler.RegisterRoutes(api, authMiddleware)
	platformHandler.RegisterRoutes(api, authMiddleware)

	srv := &http.Server{
		Addr:              config.Server.Host + ":" + config.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Block until shutdown is requested, then drain in-flight requests
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	hub.CloseAll()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "pos-core").Logger()
}
