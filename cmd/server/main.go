package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tulivucare/tulivu-backend/internal/cache"
	"github.com/tulivucare/tulivu-backend/internal/consumer"
	"github.com/tulivucare/tulivu-backend/internal/forms"
	h "github.com/tulivucare/tulivu-backend/internal/http"
	"github.com/tulivucare/tulivu-backend/internal/mpesa"
	"github.com/tulivucare/tulivu-backend/internal/publisher"
	"github.com/tulivucare/tulivu-backend/internal/repository"
	"github.com/tulivucare/tulivu-backend/internal/service"
	"github.com/tulivucare/tulivu-backend/pkg/logger"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	DBHost         string `env:"DB_HOST" envDefault:"localhost"`
	DBPort         int    `env:"DB_PORT" envDefault:"5432"`
	DBUser         string `env:"DB_USER" envDefault:"postgres"`
	DBPassword     string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName         string `env:"DB_NAME" envDefault:"tulivu"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./internal/repository/migrations"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"tulivu"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`

	MpesaBaseURL   string `env:"MPESA_BASE_URL" envDefault:"https://sandbox.safaricom.co.ke"`
	MpesaShortcode string `env:"MPESA_SHORTCODE" envDefault:"174379"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	log := logger.New("tulivu-backend")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	creds := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}

	repo, err := repository.NewRepository(creds)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("database migrations completed")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	sessionCache := cache.NewRedisCache(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoDB, err := forms.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	formStore := forms.NewMongoStore(mongoDB)
	if err := formStore.CreateIndexes(ctx); err != nil {
		log.Error("failed to create mongodb indexes", "error", err)
		os.Exit(1)
	}

	gateway := mpesa.NewClient(cfg.MpesaBaseURL, cfg.MpesaShortcode, cfg.RequestTimeout)

	booking := service.NewBookingService(repo, sessionCache, formStore, log)
	payments := service.NewPaymentService(repo, gateway, booking, log)
	video := service.NewVideoService(repo, formStore, log)

	paymentConsumer := consumer.NewConsumer(payments, log, cfg.KafkaBrokers...)
	defer paymentConsumer.Close()
	go paymentConsumer.Run(ctx)

	poller := publisher.NewOutboxPoller(repo, log, cfg.KafkaBrokers...)
	defer poller.Close()
	go poller.Run(ctx)

	bookingHandler := h.NewBookingHandler(booking, cfg.RequestTimeout)
	paymentHandler := h.NewPaymentHandler(payments, cfg.RequestTimeout)
	videoHandler := h.NewVideoHandler(video, cfg.RequestTimeout)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(h.RequestIDMiddleware)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	r.Use(chimiddleware.Compress(5))
	r.Use(h.MockAuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", bookingHandler.CreateSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", bookingHandler.GetSession)
				r.Post("/approve", bookingHandler.Approve)
				r.Post("/cancel", bookingHandler.Cancel)
				r.Post("/ready", bookingHandler.MarkReady)
				r.Post("/transition", bookingHandler.Transition)
				r.Put("/intake-form", bookingHandler.SubmitIntakeForm)
				r.Post("/payments", paymentHandler.InitiatePayment)
				r.Get("/join-check", videoHandler.JoinCheck)
				r.Post("/join", videoHandler.Join)
				r.Post("/end-call", videoHandler.End)
			})
		})
		r.Route("/payments", func(r chi.Router) {
			r.Post("/callback", paymentHandler.Callback)
			r.Post("/{payment_id}/refund", paymentHandler.Refund)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "tulivu-backend"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exited")
}
