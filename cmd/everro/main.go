package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/custos-labs/everro/internal/config"
	"github.com/custos-labs/everro/internal/gateway"
	"github.com/custos-labs/everro/internal/http_api"
	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/internal/notificator"
	"github.com/custos-labs/everro/internal/oracle"
	"github.com/custos-labs/everro/internal/poller"
	"github.com/custos-labs/everro/internal/responder"
	"github.com/custos-labs/everro/internal/tracker"
	"github.com/custos-labs/everro/internal/watcher"
	"github.com/custos-labs/everro/pkg/logger"
	"github.com/custos-labs/everro/pkg/validation"
)

func main() {
	app := &cli.App{
		Name:  "everro",
		Usage: "Everro watches a hot account and races an attacker to drain it first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rpc-endpoints", Aliases: []string{"r"}, Usage: "Comma-separated RPC endpoint URLs"},
			&cli.StringFlag{Name: "ws-endpoint", Aliases: []string{"w"}, Usage: "Push-subscription endpoint URL"},
			&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Sweep destination address"},
			&cli.StringFlag{Name: "token-address", Aliases: []string{"t"}, Usage: "Tracked token contract address"},
			&cli.StringFlag{Name: "usd-threshold", Aliases: []string{"u"}, Usage: "USD trigger threshold"},
			&cli.IntFlag{Name: "poll-interval", Aliases: []string{"i"}, Usage: "Poll interval in milliseconds"},
			&cli.IntFlag{Name: "health-port", Aliases: []string{"p"}, Usage: "HTTP port for health checks"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if err := applyFlags(c, cfg); err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize notificator
	var telegram *notificator.TelegramNotificator
	if cfg.TelegramBotToken != "" {
		telegram, err = notificator.NewTelegramNotificator(log, cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notificator: %v", err)
		}
	} else {
		log.Warn("No alert channel configured, alerts will only be logged")
	}
	notifier := notificator.NewNotificator(log, telegram)

	// Initialize chain gateway
	pool, err := gateway.NewPool(cfg.RPCEndpoints)
	if err != nil {
		return err
	}
	account := models.Account{Address: cfg.Account, Key: cfg.PrivateKey}
	token := models.Token{Address: cfg.TokenAddress, Spenders: cfg.RevokeSpenders}
	gw, err := gateway.NewGateway(log, m, pool, notifier, account, token, cfg.WSEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize chain gateway: %v", err)
	}
	defer gw.Close()

	if cfg.WSEndpoint == "" && !cfg.EnablePollFallback {
		return errors.New("no detection driver enabled: set WS_ENDPOINT or ENABLE_POLL_FALLBACK")
	}

	price := oracle.NewCoinGecko(log, m, cfg.PriceFeedURL)
	trk := tracker.New(log, gw, cfg.Account, cfg.USDThreshold)
	resp := responder.New(log, gw, notifier, m, responder.Config{
		Account:        cfg.Account,
		Destination:    cfg.Destination,
		Spenders:       cfg.RevokeSpenders,
		GasReserveGwei: cfg.GasReserveGwei,
		KeepWei:        cfg.MinNativeKeep,
	})

	apiServer := http_api.NewHTTPServer(cfg.HealthPort, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trk.Init(ctx)
	notifier.Notify(fmt.Sprintf("everro started: watching %s, sweeping to %s, threshold $%s",
		cfg.Account.Hex(), cfg.Destination.Hex(), cfg.USDThreshold))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		return apiServer.Shutdown()
	})

	if cfg.WSEndpoint != "" {
		w := watcher.New(log, gw, resp, m, cfg.Account)
		g.Go(func() error {
			return w.Run(gctx)
		})
	} else {
		log.Warn("No push endpoint configured, relying on the poll loop")
	}

	if cfg.EnablePollFallback {
		p := poller.New(log, gw, trk, price, resp, notifier, m, cfg.PollInterval, cfg.GasReserveGwei)
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		// best-effort crash alert, then a non-zero exit
		notifier.Notify(fmt.Sprintf("everro terminating on fatal error: %v", err))
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("rpc-endpoints") {
		cfg.RPCEndpoints = nil
		for _, url := range strings.Split(c.String("rpc-endpoints"), ",") {
			if trimmed := strings.TrimSpace(url); trimmed != "" {
				cfg.RPCEndpoints = append(cfg.RPCEndpoints, trimmed)
			}
		}
		if len(cfg.RPCEndpoints) == 0 {
			return errors.New("rpc-endpoints flag must not be empty")
		}
	}
	if c.IsSet("ws-endpoint") {
		cfg.WSEndpoint = c.String("ws-endpoint")
	}
	if c.IsSet("destination") {
		if err := validation.ValidateAddress(c.String("destination")); err != nil {
			return fmt.Errorf("invalid destination flag: %v", err)
		}
		cfg.Destination = common.HexToAddress(c.String("destination"))
	}
	if c.IsSet("token-address") {
		if err := validation.ValidateAddress(c.String("token-address")); err != nil {
			return fmt.Errorf("invalid token-address flag: %v", err)
		}
		cfg.TokenAddress = common.HexToAddress(c.String("token-address"))
	}
	if c.IsSet("usd-threshold") {
		threshold, err := decimal.NewFromString(c.String("usd-threshold"))
		if err != nil {
			return fmt.Errorf("invalid usd-threshold flag: %v", err)
		}
		cfg.USDThreshold = threshold
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = time.Duration(c.Int("poll-interval")) * time.Millisecond
	}
	if c.IsSet("health-port") {
		cfg.HealthPort = c.Int("health-port")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	return nil
}
