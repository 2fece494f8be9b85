package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/crewline/internal/config"
	"github.com/zulandar/crewline/internal/convo"
	"github.com/zulandar/crewline/internal/db"
	"github.com/zulandar/crewline/internal/notify"
	"github.com/zulandar/crewline/internal/server"
	"github.com/zulandar/crewline/internal/stats"
	"github.com/zulandar/crewline/internal/transport"
	"github.com/zulandar/crewline/internal/transport/discord"
	"github.com/zulandar/crewline/internal/transport/slack"
)

// chatListener is a transport with a live inbound connection (Slack socket
// mode, Discord gateway). Webhook-mode transports receive updates over HTTP
// instead and don't implement it.
type chatListener interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) (<-chan transport.Update, error)
	Close() error
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Crewline server",
		Long:  "Starts the webhook ingestion server and, depending on the configured transport, a live chat connection. Blocks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewline.yaml", "path to Crewline config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	tr, listener, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Transport: %s\n", cfg.Transport.Platform)

	if listener != nil {
		if err := listener.Connect(ctx); err != nil {
			return err
		}
		defer listener.Close()

		updates, err := listener.Listen(ctx)
		if err != nil {
			return err
		}

		agg := stats.New(gormDB)
		engine, err := convo.NewEngine(convo.EngineOpts{
			DB:        gormDB,
			Transport: tr,
			Stats:     agg,
			Notifier:  notify.NewDispatcher(tr),
		})
		if err != nil {
			return err
		}
		go func() {
			for update := range updates {
				engine.HandleUpdate(ctx, update)
			}
		}()
	}

	if cfg.Digest.Enabled {
		go notify.NewDigest(gormDB, tr, cfg.Digest.Cron).Run(ctx)
		fmt.Fprintf(out, "Owner digest scheduled: %s\n", cfg.Digest.Cron)
	}

	return server.Start(ctx, server.StartOpts{
		DB:        gormDB,
		Transport: tr,
		Port:      cfg.Server.Port,
		Out:       out,
	})
}

// buildTransport creates the configured transport. The second return is
// non-nil for platforms with a live inbound connection.
func buildTransport(cfg *config.Config) (transport.Transport, chatListener, error) {
	switch cfg.Transport.Platform {
	case "webhook":
		return transport.NewWebhook(cfg.Transport.Webhook.OutboundURL), nil, nil
	case "slack":
		tr, err := slack.New(slack.Opts{
			AppToken: cfg.Transport.Slack.AppToken,
			BotToken: cfg.Transport.Slack.BotToken,
		})
		if err != nil {
			return nil, nil, err
		}
		return tr, tr, nil
	case "discord":
		tr, err := discord.New(discord.Opts{BotToken: cfg.Transport.Discord.BotToken})
		if err != nil {
			return nil, nil, err
		}
		return tr, tr, nil
	}
	return nil, nil, fmt.Errorf("serve: unknown transport platform %q", cfg.Transport.Platform)
}
