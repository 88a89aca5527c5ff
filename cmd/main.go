/**
 * @description
 * This is the main entry point for the payments-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the M-PESA gateway client, the event producer, repositories, the
 * core application service, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for status-poll rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/daraja: Client for the M-PESA Daraja API.
 * - pkg/rabbitmq: Event producer for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fanlipa/payments-service/internal/api"
	"github.com/fanlipa/payments-service/internal/app"
	"github.com/fanlipa/payments-service/internal/config"
	"github.com/fanlipa/payments-service/internal/metrics"
	"github.com/fanlipa/payments-service/internal/store"
	"github.com/fanlipa/payments-service/pkg/daraja"
	"github.com/fanlipa/payments-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.CallbackBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"callback base url must be configured\" env=CALLBACK_BASE_URL")
	}
	if strings.TrimSpace(cfg.CallbackSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"callback secret must be configured\" env=CALLBACK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s", cfg.ServerPort)
	metrics.Init()

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish payment lifecycle events.
	// A broker outage degrades to a no-op publisher; settlement never depends
	// on the broker being up.
	var producer rabbitmq.Publisher
	if eventProducer, prodErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis for status-poll rate limiting.
	var limiter app.RateLimiter = app.NoopRateLimiter{}
	if cfg.StatusPollRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; status-poll rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; status-poll rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; status-poll rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisPollRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancelPing()
		}
	}

	// Initialize the M-PESA gateway client. The callback URL embeds the shared
	// secret segment the webhook verifies.
	callbackURL := fmt.Sprintf("%s/payments/callback/%s", cfg.CallbackBaseURL, cfg.CallbackSecret)
	gatewayClient := daraja.NewClient(cfg.DarajaBaseURL, callbackURL)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service and the callback reconciler.
	paymentService := app.NewService(
		repository,
		gatewayClient,
		time.Duration(cfg.GatewayTimeoutSeconds)*time.Second,
		cfg.VotePriceCents,
	)
	reconciler := app.NewReconciler(repository, producer, cfg.PaymentEventExchange, cfg.VotePriceCents)

	// Initialize the API handlers and router.
	handler := api.NewHandler(paymentService, reconciler, limiter, cfg.CallbackSecret, cfg.StatusPollRateLimitPerMinute)
	router := api.NewRouter(handler)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
