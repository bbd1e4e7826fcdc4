package main

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/notify"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/asset_bazaar/services"
	"bms_platform/asset_bazaar/storage"
	"bms_platform/utils"
	"bms_platform/utils/logging"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type discordEnv struct {
	ClientId     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	BotToken     string   `env:"BOT_TOKEN"`
	AdminIds     []string `env:"ADMIN_IDS" envSeparator:","`
	ApiUrl       string   `env:"API_URL" envDefault:"https://discord.com/api/v10"`
}

type assetBazaarEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`
	DbDialect   string `env:"DB_DIALECT" envDefault:"postgres"`

	ShareDir      string        `env:"SHARE_DIR,required"`
	JwtSecret     string        `env:"JWT_SECRET,required"`
	SessionExpiry time.Duration `env:"SESSION_EXPIRY" envDefault:"168h"`

	// "discord" in production, "basic" for local password accounts.
	IdentityProvider string     `env:"IDENTITY_PROVIDER" envDefault:"discord"`
	Discord          discordEnv `envPrefix:"DISCORD_"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	FrontendUrl string   `env:"FRONTEND_URL,required"`
	BackendUrl  string   `env:"BACKEND_URL,required"`
	CorsOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	RateLimitPerMinute int   `env:"RATE_LIMIT_PER_MINUTE" envDefault:"600"`
	CreateLimitPerHour int   `env:"CREATE_LIMIT_PER_HOUR" envDefault:"60"`
	MaxFileSize        int64 `env:"MAX_FILE_SIZE" envDefault:"52428800"`
	MaxLargeFileSize   int64 `env:"MAX_LARGE_FILE_SIZE" envDefault:"262144000"`

	AlertDeliveryInterval  time.Duration `env:"ALERT_DELIVERY_INTERVAL" envDefault:"15s"`
	AlertDeliveryPerSecond int           `env:"ALERT_DELIVERY_PER_SECOND" envDefault:"5"`
	AlertDeliveryBatchSize int           `env:"ALERT_DELIVERY_BATCH_SIZE" envDefault:"100"`
	AlertDeliveryAttempts  int           `env:"ALERT_DELIVERY_MAX_ATTEMPTS" envDefault:"8"`
	AlertDeliveryRetry     time.Duration `env:"ALERT_DELIVERY_RETRY_DELAY" envDefault:"30s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJson  bool   `env:"LOG_JSON"`
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

/**
 * ==========================================================================
 * ==== All variables that are used by asset bazaar must be loaded here. ====
 * ==== This is to make the data flow clear so that a user can see what  ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
func loadEnv() (*assetBazaarEnv, error) {
	cfg := &assetBazaarEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	switch cfg.IdentityProvider {
	case "discord":
		if cfg.Discord.ClientId == "" || cfg.Discord.ClientSecret == "" {
			return nil, fmt.Errorf("DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET must be specified when using the discord identity provider")
		}
	case "basic":
		if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
			return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be specified when using the basic identity provider")
		}
	default:
		return nil, fmt.Errorf("invalid IDENTITY_PROVIDER '%v', must be discord or basic", cfg.IdentityProvider)
	}

	if len(cfg.CorsOrigins) == 0 {
		cfg.CorsOrigins = []string{cfg.FrontendUrl}
	}

	return cfg, nil
}

func initDb(env *assetBazaarEnv) (*gorm.DB, error) {
	db, err := utils.OpenDb(env.DbDialect, env.DatabaseUri)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		return nil, fmt.Errorf("error migrating db schema: %w", err)
	}

	return db, nil
}

func initIdentityProvider(env *assetBazaarEnv, db *gorm.DB, auditLog auth.AuditLogger) (auth.IdentityProvider, error) {
	if env.IdentityProvider == "basic" {
		return auth.NewBasicIdentityProvider(db, auditLog, auth.BasicProviderArgs{
			Secret:        []byte(env.JwtSecret),
			SessionExpiry: env.SessionExpiry,
			AdminUsername: env.AdminUsername,
			AdminPassword: env.AdminPassword,
		})
	}

	return auth.NewDiscordIdentityProvider(db, auditLog, auth.DiscordProviderArgs{
		ClientId:      env.Discord.ClientId,
		ClientSecret:  env.Discord.ClientSecret,
		BackendUrl:    env.BackendUrl,
		FrontendUrl:   env.FrontendUrl,
		Secret:        []byte(env.JwtSecret),
		SessionExpiry: env.SessionExpiry,
		AdminIds:      env.Discord.AdminIds,
		ApiUrl:        env.Discord.ApiUrl,
	})
}

// The reason we have a separate runApp function is because the defer calls don't
// run if we exit with log.Fatalf, so instead we return an err here and fail outside
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(env.ShareDir, "logs"), 0777); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.ShareDir, "logs/asset_bazaar.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(env.ShareDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening audit log file: %w", err)
	}
	defer auditLog.Close()

	slog.SetDefault(logging.NewLogger(io.MultiWriter(logFile, os.Stderr), env.LogLevel, env.LogJson))
	slog.Info("logging initialized", logging.Code(logging.SYSTEM), "log_file", logFile.Name())

	db, err := initDb(env)
	if err != nil {
		return err
	}

	identityProvider, err := initIdentityProvider(env, db, auth.NewAuditLogger(auditLog))
	if err != nil {
		return fmt.Errorf("error creating %v identity provider: %w", env.IdentityProvider, err)
	}

	sharedStorage := storage.NewSharedDisk(env.ShareDir)

	assetBazaar := services.NewAssetBazaar(db, sharedStorage, identityProvider, services.Options{
		MaxFileSize:        env.MaxFileSize,
		MaxLargeFileSize:   env.MaxLargeFileSize,
		RateLimitPerMinute: env.RateLimitPerMinute,
		CreateLimitPerHour: env.CreateLimitPerHour,
	})

	if env.Discord.BotToken != "" {
		dispatcher := notify.NewDispatcher(
			db,
			notify.NewDiscordSender(env.Discord.ApiUrl, env.Discord.BotToken, env.FrontendUrl),
			env.AlertDeliveryPerSecond,
			env.AlertDeliveryBatchSize,
		).WithRetry(env.AlertDeliveryAttempts, env.AlertDeliveryRetry)
		go dispatcher.Run(env.AlertDeliveryInterval)
		defer dispatcher.Stop()
	} else {
		slog.Warn("DISCORD_BOT_TOKEN not set, alerts will not be delivered externally")
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   env.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", assetBazaar.Routes())
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: r,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("HTTP server Shutdown", "err", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", "port", *port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	slog.Info("server stopped")
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
