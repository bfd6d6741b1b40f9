package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/config"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/database"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/logging"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

// application bundles the collaborators every subcommand needs.
type application struct {
	config      config.ClientConfig
	logger      *zap.Logger
	db          *gorm.DB
	local       *localstore.Store
	remote      *cloud.HTTPStore
	coordinator *syncer.Coordinator
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "binderctl",
		Short:         "Edit Pokemon card binders locally and sync them with the binder API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	setupFlags(rootCmd)
	registerCommands(rootCmd)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api", defaults.GetString("client.api_base_url"), "Binder API base URL")
	cmd.PersistentFlags().String("token", "", "Session token for the binder API (overrides env)")
	cmd.PersistentFlags().String("user", defaults.GetString("client.user_id"), "Signed-in user id; empty works offline as a guest")
	cmd.PersistentFlags().String("database-path", defaults.GetString("client.database_path"), "Local SQLite snapshot path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("max-cards", defaults.GetInt("limits.max_cards"), "Maximum cards per binder (0 = unlimited)")
	cmd.PersistentFlags().Int("max-pages", defaults.GetInt("limits.max_pages"), "Maximum binder pages (0 = binder setting)")

	bindFlag(cmd, "client.api_base_url", "api")
	bindFlag(cmd, "client.api_token", "token")
	bindFlag(cmd, "client.user_id", "user")
	bindFlag(cmd, "client.database_path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "limits.max_cards", "max-cards")
	bindFlag(cmd, "limits.max_pages", "max-pages")
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

// openApplication wires the local snapshot, the remote store and the coordinator.
func openApplication(ctx context.Context) (*application, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenLocalSQLite(clientConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	local, err := localstore.NewStore(localstore.StoreConfig{
		Database: db,
		TTL:      clientConfig.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if err := local.Load(ctx); err != nil {
		return nil, fmt.Errorf("load local binders: %w", err)
	}

	remote, err := cloud.NewHTTPStore(cloud.HTTPStoreConfig{
		BaseURL: clientConfig.APIBaseURL,
		Token:   clientConfig.APIToken,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	editor := binders.NewEditor(binders.EditorConfig{
		Logger: logger,
		Limits: binders.Limits{MaxCards: clientConfig.MaxCards, MaxPages: clientConfig.MaxPages},
	})
	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Remote: remote,
		Local:  local,
		Editor: editor,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:      clientConfig,
		logger:      logger,
		db:          db,
		local:       local,
		remote:      remote,
		coordinator: coordinator,
	}, nil
}

// Close persists the binder list cache and releases the database.
func (a *application) Close(ctx context.Context) {
	if err := a.local.Flush(ctx); err != nil {
		a.logger.Warn("failed to persist binder cache", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// userID returns the configured user, or "" for an offline guest session.
func (a *application) userID() string {
	return a.config.UserID
}

// requireOnline rejects remote operations without a user and token.
func (a *application) requireOnline() error {
	if a.userID() == "" {
		return errors.New("a signed-in user is required; pass --user")
	}
	if !a.remote.IsAuthenticated() {
		return errors.New("a session token is required; pass --token or set POKEBINDER_CLIENT_API_TOKEN")
	}
	return nil
}

// withApplication runs fn against a freshly opened application.
func withApplication(fn func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		app, err := openApplication(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)
		return fn(ctx, app, cmd, args)
	}
}
