package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bancalabs/banca/internal/admin"
	"github.com/bancalabs/banca/internal/oplog"
	"github.com/bancalabs/banca/internal/rewards"
	"github.com/bancalabs/banca/internal/store/gormstore"
	"github.com/bancalabs/banca/internal/vip"
	"github.com/bancalabs/banca/internal/webapi"
	"github.com/bancalabs/banca/pkg/arena"
	"github.com/bancalabs/banca/pkg/cooldown"
	"github.com/bancalabs/banca/pkg/draw"
	"github.com/bancalabs/banca/pkg/ledger"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagBootstrapAdmin = "bootstrap-admin"
	configDatabaseURL  = "database_url"
	configListenAddr   = "listen_addr"
	configOrigins      = "allowed_origins"
	configBootstrap    = "bootstrap_admin"
	defaultDatabaseURL = "sqlite:///tmp/banca.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string
	BootstrapAdmin string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bancad: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "bancad",
		Short:         "Virtual currency and wagering session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().String(flagBootstrapAdmin, "", "user id seeded with an admin grant at startup")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configListenAddr, "HTTP_LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}
	if err := viper.BindEnv(configBootstrap, "BOOTSTRAP_ADMIN"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configBootstrap, cmd.Flags().Lookup(flagBootstrapAdmin)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configOrigins)
	cfg.BootstrapAdmin = viper.GetString(configBootstrap)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	source := draw.NewSource()

	ledgerService, err := ledger.NewService(store, clock, ledger.WithOperationLogger(oplog.NewZapLogger(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	gate, err := cooldown.NewGate(store, clock)
	if err != nil {
		return fmt.Errorf("cooldown gate init: %w", err)
	}
	vipService, err := vip.NewService(store, clock)
	if err != nil {
		return fmt.Errorf("vip service init: %w", err)
	}
	adminService, err := admin.NewService(store, ledgerService, clock)
	if err != nil {
		return fmt.Errorf("admin service init: %w", err)
	}
	rewardsService, err := rewards.NewService(ledgerService, gate, vipService, source, rewards.DefaultConfig())
	if err != nil {
		return fmt.Errorf("rewards service init: %w", err)
	}
	engine, err := arena.NewEngine(ledgerService, source, clock, arena.WithOutcomeListener(outcomeLogger(logger)))
	if err != nil {
		return fmt.Errorf("session engine init: %w", err)
	}

	if cfg.BootstrapAdmin != "" {
		adminID, err := ledger.NewUserID(cfg.BootstrapAdmin)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if err := adminService.Bootstrap(ctx, adminID); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("admin grant seeded", zap.String("user_id", adminID.String()))
	}

	server, err := webapi.NewServer(webapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, ledgerService, engine, rewardsService, vipService, adminService)
	if err != nil {
		return fmt.Errorf("webapi init: %w", err)
	}

	return server.Run(ctx)
}

func outcomeLogger(logger *zap.Logger) arena.OutcomeListener {
	return func(outcome arena.Outcome) {
		fields := []zap.Field{
			zap.String("session_id", outcome.SessionID),
			zap.String("kind", outcome.Kind.String()),
			zap.String("state", outcome.State.String()),
			zap.String("reason", outcome.Reason),
			zap.Int("participants", len(outcome.Participants)),
		}
		if outcome.Winner != nil {
			fields = append(fields, zap.String("winner", outcome.Winner.String()))
		}
		logger.Info("session concluded", fields...)
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "banca.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
