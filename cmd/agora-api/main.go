package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/answers"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/config"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/database"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/questions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/server"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/throttle"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agora-api",
		Short: "Agora Q&A forum backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("api-prefix", defaults.GetString("http.api_prefix"), "Prefix for API routes")
	cmd.PersistentFlags().StringSlice("cors-origins", defaults.GetStringSlice("http.cors_origins"), "Allowed browser origins")
	cmd.PersistentFlags().String("env", defaults.GetString("app.env"), "Environment (development, production, test)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	cmd.PersistentFlags().String("jwt-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Access token lifetime")
	cmd.PersistentFlags().String("cache-driver", defaults.GetString("cache.driver"), "Question cache driver (memory, redis)")
	cmd.PersistentFlags().String("throttle-driver", defaults.GetString("throttle.driver"), "Throttle driver (memory, redis)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.api_prefix", "api-prefix")
	bindFlag(cmd, "http.cors_origins", "cors-origins")
	bindFlag(cmd, "app.env", "env")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "auth.jwt_secret", "jwt-secret")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "cache.driver", "cache-driver")
	bindFlag(cmd, "throttle.driver", "throttle-driver")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		URL:    appConfig.DatabaseURL,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var redisClient *redis.Client
	if appConfig.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	baseStore, err := newCacheStore(appConfig, redisClient)
	if err != nil {
		return err
	}
	store := cache.NewGenerational(baseStore)
	limiter, err := newLimiter(appConfig, redisClient)
	if err != nil {
		return err
	}

	bus := events.NewBus(appConfig.NotificationBuffer, logger.Named("events"))
	defer bus.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.JWTSecret),
		Issuer:        appConfig.TokenIssuer,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(appConfig.BcryptCost),
		Cache:    store,
		Logger:   logger.Named("users"),
	})
	if err != nil {
		return err
	}
	questionService, err := questions.NewService(questions.ServiceConfig{
		Database:   db,
		Cache:      store,
		CacheTTL:   appConfig.CacheTTL,
		Reputation: userService,
		Events:     bus,
		Logger:     logger.Named("questions"),
	})
	if err != nil {
		return err
	}
	answerService, err := answers.NewService(answers.ServiceConfig{
		Database:   db,
		Cache:      store,
		Reputation: userService,
		Events:     bus,
		Logger:     logger.Named("answers"),
	})
	if err != nil {
		return err
	}

	hub, err := notifications.NewHub(notifications.HubConfig{
		Registry: notifications.NewRegistry(),
		Logger:   logger.Named("notifications"),
	})
	if err != nil {
		return err
	}
	gateway, err := notifications.NewGateway(notifications.GatewayConfig{
		Hub:            hub,
		Tokens:         tokenIssuer,
		CookieName:     appConfig.CookieName,
		AllowedOrigins: appConfig.CORSOrigins,
		Logger:         logger.Named("notifications"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:         userService,
		Questions:     questionService,
		Answers:       answerService,
		Tokens:        tokenIssuer,
		Realtime:      gateway,
		Limiter:       limiter,
		HealthCheck:   sqlDB.PingContext,
		APIPrefix:     appConfig.APIPrefix,
		CORSOrigins:   appConfig.CORSOrigins,
		CookieName:    appConfig.CookieName,
		SecureCookies: appConfig.IsProduction(),
		Logger:        logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		hub.Run(signalCtx, bus.Events())
		close(hubDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment),
			zap.String("database", appConfig.DatabaseDriver),
			zap.String("cache", appConfig.CacheDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-hubDone
		logger.Info("server stopped")
		return err
	case err := <-errCh:
		stop()
		<-hubDone
		return err
	}
}

func newCacheStore(appConfig config.AppConfig, client *redis.Client) (cache.Store, error) {
	if appConfig.CacheDriver == config.DriverRedis {
		return cache.NewRedisStore(client, appConfig.CacheKeyPrefix)
	}
	return cache.NewMemoryStore(nil), nil
}

func newLimiter(appConfig config.AppConfig, client *redis.Client) (throttle.Limiter, error) {
	if appConfig.ThrottleDriver == config.DriverRedis {
		return throttle.NewRedisLimiter(client, appConfig.ThrottleLimit, appConfig.ThrottleWindow, appConfig.CacheKeyPrefix)
	}
	return throttle.NewMemoryLimiter(appConfig.ThrottleLimit, appConfig.ThrottleWindow, nil), nil
}
