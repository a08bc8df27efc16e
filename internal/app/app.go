// Package app wires configuration, storage and front-ends into the
// moodflow command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moodflow/backend/internal/bot"
	"github.com/moodflow/backend/internal/config"
	"github.com/moodflow/backend/internal/db"
	"github.com/moodflow/backend/internal/handlers"
	"github.com/moodflow/backend/internal/httpserver"
	"github.com/moodflow/backend/internal/middleware"
)

// Run executes the moodflow command line with args.
func Run(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the moodflow command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "moodflow",
		Short:         "Mood selection and expiry backend for the recipe app",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("MOODFLOW_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set MOODFLOW_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the sweeper and, when a token is set, the Telegram bot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), true)
			},
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Run only the Telegram bot and the sweeper",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), false)
			},
		},
		&cobra.Command{
			Use:       "migrate [up|status]",
			Short:     "Apply or list PostgreSQL migrations for the mood mirror",
			Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"up", "status"},
			RunE: func(cmd *cobra.Command, args []string) error {
				command := "up"
				if len(args) > 0 {
					command = args[0]
				}
				return runMigrations(cmd.Context(), command, cmd.OutOrStdout())
			},
		},
	)

	return root
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.SlogLevel(),
	}))
}

func serve(ctx context.Context, withHTTP bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if !withHTTP && cfg.TelegramToken == "" {
		return errors.New("bot command requires TELEGRAM_BOT_TOKEN")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("close dependencies", "error", err)
		}
	}()

	sweeper, err := deps.Registry.StartSweeper(cfg.Sessions.SweepInterval)
	if err != nil {
		return err
	}
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.Warn("stop sweeper", "error", err)
		}
	}()

	var api *tgbotapi.BotAPI
	if cfg.TelegramToken != "" {
		api, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("connect telegram bot: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if withHTTP {
		mux := http.NewServeMux()
		handlers.RegisterRoutes(mux, deps.Handlers)
		srv := httpserver.New(cfg.AppPort, middleware.RequestLogger(logger)(mux))

		g.Go(func() error {
			logger.Info("starting http server", "port", cfg.AppPort, "mirror", cfg.Mirror.Backend)
			return srv.Run(gctx, nil)
		})
	}

	if api != nil {
		b := bot.New(api, deps.Registry, logger)

		updateConfig := tgbotapi.NewUpdate(0)
		updateConfig.Timeout = 60
		updates := api.GetUpdatesChan(updateConfig)

		g.Go(func() error {
			<-gctx.Done()
			api.StopReceivingUpdates()
			return nil
		})
		g.Go(func() error {
			return b.Run(gctx, updates)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func runMigrations(ctx context.Context, command string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	migrationDir := cfg.MigrationDir
	if !filepath.IsAbs(migrationDir) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		migrationDir = filepath.Join(wd, migrationDir)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := db.Migrator{Dir: migrationDir, Out: out}
	switch command {
	case "status":
		return m.Status(ctx, pool)
	default:
		return m.Up(ctx, pool)
	}
}
