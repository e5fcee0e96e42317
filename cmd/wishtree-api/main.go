package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/config"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/database"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/guard"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/server"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wishtree-api",
		Short: "Wish tree backend service",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("remote-base-url", defaults.GetString("remote.base_url"), "Remote document store API root")
	flags.String("remote-bin-id", "", "Remote document id (overrides env)")
	flags.String("remote-api-key", "", "Remote document store master key (overrides env)")
	flags.Duration("persist-debounce", defaults.GetDuration("persist.debounce"), "Quiet period before a remote write")
	flags.StringSlice("allowed-origins", []string{defaults.GetString("cors.allowed_origins")}, "Origins allowed by CORS")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.bin_id", "remote-bin-id")
	bindFlag(cmd, "remote.api_key", "remote-api-key")
	bindFlag(cmd, "persist.debounce", "persist-debounce")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	hasher, err := secrets.NewHasher(appConfig.BcryptCost)
	if err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, hasher, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	localReplica, err := wishes.NewLocalReplica(wishes.LocalReplicaConfig{
		Database: db,
		Key:      appConfig.PersistLocalKey,
	})
	if err != nil {
		return err
	}

	var remoteReplica wishes.Replica
	if appConfig.RemoteConfigured() {
		remoteReplica = wishes.NewRemoteReplica(wishes.RemoteReplicaConfig{
			BaseURL:         appConfig.RemoteBaseURL,
			APIKey:          appConfig.RemoteAPIKey,
			BinID:           appConfig.RemoteBinID,
			Timeout:         appConfig.RemoteTimeout,
			RetryMaxElapsed: appConfig.RemoteRetryMaxElapsed,
			Logger:          logger,
		})
	} else {
		logger.Warn("remote replica not configured; wishes persist locally only")
	}

	store, err := wishes.NewStore(wishes.StoreConfig{
		Local:      localReplica,
		Remote:     remoteReplica,
		Scheduler:  wishes.NewDebouncer(appConfig.PersistDebounce, wishes.RealTimer),
		Hasher:     hasher,
		Clock:      time.Now,
		IDProvider: wishes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	loadCtx, cancelLoad := context.WithTimeout(ctx, appConfig.RemoteTimeout)
	store.Load(loadCtx)
	cancelLoad()

	accessGuard := guard.New(guard.Config{
		Clock:        time.Now,
		MaxLockout:   appConfig.GuardMaxLockout,
		ForgiveAfter: appConfig.GuardForgiveAfter,
		Logger:       logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:    store,
		Guard:    accessGuard,
		Realtime: server.NewRealtimeDispatcher(),
		RateLimiter: server.NewRateLimiter(server.RateLimitConfig{
			Requests: appConfig.RateLimitRequests,
			Window:   appConfig.RateLimitWindow,
			Logger:   logger,
		}),
		AllowedOrigins: appConfig.AllowedOrigins,
		TrustedProxies: appConfig.TrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Open event streams only end when their request context does.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpServer := &http.Server{
		Addr:        appConfig.HTTPAddress,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownGracePeriod)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		store.Flush()
		logger.Info("server stopped")
		return shutdownErr
	case err := <-errCh:
		store.Flush()
		return err
	}
}
