package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-relay/internal/api/http"
	"github.com/spec-kit/ticket-relay/internal/api/http/handlers"
	"github.com/spec-kit/ticket-relay/internal/auth"
	"github.com/spec-kit/ticket-relay/internal/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the gateway and serve the staff API",
	Long: `Connect the bot to the gateway, relay private messages and ticket
thread messages, run the SLA / auto-close sweep and serve the staff HTTP API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	handler := gateway.NewHandler(gateway.HandlerDependencies{
		Lifecycle: rt.lifecycle,
		Relay:     rt.relay,
		Rating:    rt.rating,
		Resolver:  rt.resolver,
		Platform:  rt.discord,
		Discord:   cfg.Discord,
		Tickets:   cfg.Tickets,
		Timeout:   cfg.App.RequestTimeout(),
		Logger:    logger,
	})
	rt.discord.Session().AddHandler(handler.OnMessageCreate)
	if err := rt.discord.Open(); err != nil {
		return fmt.Errorf("failed to open gateway session: %w", err)
	}
	defer func() {
		if err := rt.discord.Close(); err != nil {
			logger.Warn("failed to close gateway session", zap.Error(err))
		}
	}()

	automation := rt.automation()
	if automation.Enabled() {
		automation.Start(ctx)
		defer automation.Stop()
	} else {
		logger.Info("automation disabled; no SLA or auto-close threshold configured")
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, rt.postgres, rt.redis),
		Tickets:        handlers.NewStaffTicketsHandler(rt.lifecycle, rt.relay),
		Metrics:        handlers.NewMetricsHandler(rt.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.App.Addr())
	}()
	logger.Info("relay started", zap.String("addr", cfg.App.Addr()), zap.String("guild_id", cfg.Discord.GuildID))

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
	case sig := <-waitForShutdown():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

func waitForShutdown() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
