package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parleylabs/parley/internal/auth"
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/database"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/logging"
	"github.com/parleylabs/parley/internal/membership"
	"github.com/parleylabs/parley/internal/realtime"
	"github.com/parleylabs/parley/internal/server"
	"github.com/parleylabs/parley/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley-api",
		Short: "Parley group messaging backend service",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Int("max-message-length", defaults.GetInt("chat.max_message_length"), "Maximum message body length in characters")
	cmd.PersistentFlags().Int("history-page-limit", defaults.GetInt("chat.history_page_limit"), "Maximum history page size")
	cmd.PersistentFlags().Int("membership-cache-ttl-ms", defaults.GetInt("membership.cache_ttl_ms"), "Membership cache TTL in milliseconds")
	cmd.PersistentFlags().Int("membership-check-timeout-ms", defaults.GetInt("membership.check_timeout_ms"), "Membership check timeout in milliseconds")
	cmd.PersistentFlags().Int("send-buffer", defaults.GetInt("realtime.send_buffer"), "Per-session realtime delivery buffer")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "chat.max_message_length", "max-message-length")
	bindFlag(cmd, "chat.history_page_limit", "history-page-limit")
	bindFlag(cmd, "membership.cache_ttl_ms", "membership-cache-ttl-ms")
	bindFlag(cmd, "membership.check_timeout_ms", "membership-check-timeout-ms")
	bindFlag(cmd, "realtime.send_buffer", "send-buffer")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	groupService, err := groups.NewService(groups.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	oracle, err := membership.NewOracle(membership.OracleConfig{
		Source:       membership.GroupSource{Groups: groupService},
		CacheTTL:     appConfig.MembershipTTL,
		CheckTimeout: appConfig.MembershipTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	store, err := chat.NewStore(chat.StoreConfig{
		Database:      db,
		Directory:     groupService,
		MaxBodyLength: appConfig.MaxMessageLength,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	registry, err := realtime.NewRegistry(realtime.RegistryConfig{
		Membership: oracle,
		SendBuffer: appConfig.SendBuffer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	dispatcher := realtime.NewDispatcher(registry, logger)

	chatService, err := chat.NewService(chat.ServiceConfig{
		Store:      store,
		Membership: oracle,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	history, err := chat.NewHistory(chat.HistoryConfig{
		Store:      store,
		Membership: oracle,
		PageLimit:  appConfig.HistoryPageLimit,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        userService,
		Groups:       groupService,
		Chat:         chatService,
		History:      history,
		Registry:     registry,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
