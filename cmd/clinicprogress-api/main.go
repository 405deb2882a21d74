package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/auth"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/config"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/logging"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/progression"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/scheduler"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/server"
	"github.com/oluaphms/Agendamento-Clinico-sub001/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicprogress-api",
		Short: "Clinic gamification and progression service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newLeaderboardCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Browser origins allowed to send credentialed cross-origin requests")
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "Progression store (memory, sqlite, postgres, redis)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().Int("redis-db", defaults.GetInt("redis.db"), "Redis database number")
	cmd.PersistentFlags().String("tauth-cookie-name", defaults.GetString("tauth.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().String("tauth-signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("leaderboard-refresh", defaults.GetDuration("leaderboard.refresh_interval"), "Leaderboard refresh interval, 0 disables")
	cmd.PersistentFlags().String("timezone", defaults.GetString("progression.timezone"), "Timezone for hour-of-day achievements")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "tauth.cookie_name", "tauth-cookie-name")
	bindFlag(cmd, "tauth.signing_secret", "tauth-signing-secret")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "leaderboard.refresh_interval", "leaderboard-refresh")
	bindFlag(cmd, "progression.timezone", "timezone")
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

// application is the wired engine shared by the server and the one-shot commands.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	storage    *storage
	users      *users.Service
	progress   *progression.Service
	dispatcher *server.RealtimeDispatcher
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	location, err := appConfig.Location()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	opened, err := openStorage(ctx, appConfig, logger)
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: opened.directory,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		_ = opened.Close()
		return nil, err
	}

	dispatcher := server.NewRealtimeDispatcher()
	progressService, err := progression.NewService(progression.ServiceConfig{
		Store:     opened.store,
		Clock:     time.Now,
		Location:  location,
		Publisher: dispatcher,
		Names:     userService,
		Logger:    logger,
	})
	if err != nil {
		_ = opened.Close()
		return nil, err
	}

	return &application{
		config:     appConfig,
		logger:     logger,
		storage:    opened,
		users:      userService,
		progress:   progressService,
		dispatcher: dispatcher,
	}, nil
}

func (a *application) Close() {
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runServer(ctx context.Context) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(app.config.TAuthSigningKey),
		Issuer:        app.config.TAuthIssuer,
		CookieName:    app.config.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Users:            app.users,
		Progress:         app.progress,
		Realtime:         app.dispatcher,
		Logger:           logger,
		AllowedOrigins:   app.config.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresher, err := scheduler.NewLeaderboardRefresher(scheduler.Config{
		Progress: app.progress,
		Interval: app.config.LeaderboardRefresh,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := refresher.Start(signalCtx); err != nil {
		return err
	}
	defer func() {
		if err := refresher.Stop(); err != nil {
			logger.Warn("failed to stop leaderboard refresh", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLeaderboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Recompute the leaderboard once and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.progress.RecomputeLeaderboard(cmd.Context())
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(entries)
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		identity auth.SessionIdentity
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.TAuthSigningKey),
				Issuer:        appConfig.TAuthIssuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(identity)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			return encoder.Encode(map[string]any{
				"cookie_name": appConfig.TAuthCookieName,
				"token":       token,
				"expires_at":  expiresAt.UTC(),
			})
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user-id", "", "User id placed in the session")
	cmd.Flags().StringVar(&identity.Email, "email", "", "User email")
	cmd.Flags().StringVar(&identity.DisplayName, "display-name", "", "Display name shown on the leaderboard")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default 12h)")
	return cmd
}
