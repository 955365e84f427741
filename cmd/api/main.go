package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/auth"
	"papertrade/internal/balance"
	"papertrade/internal/config"
	"papertrade/internal/db"
	"papertrade/internal/events"
	"papertrade/internal/execution"
	"papertrade/internal/feed"
	"papertrade/internal/health"
	"papertrade/internal/httpserver"
	"papertrade/internal/journal"
	"papertrade/internal/monitor"
	"papertrade/internal/position"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()

	journalSvc := journal.NewService(pool, logger.Named("journal"))
	if err := journalSvc.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	bus := events.NewBus()
	balanceSvc := balance.NewService(cfg.BalanceCap, journalSvc, logger.Named("balance"))
	ledger := position.NewLedger()
	execSvc := execution.NewService(balanceSvc, ledger, journalSvc, bus, logger.Named("execution"))
	mon := monitor.New(ledger, execSvc, cfg.StaleAfter, logger.Named("monitor"))
	execSvc.SetPrices(mon)

	if err := recoverState(ctx, journalSvc, balanceSvc, ledger, mon, logger); err != nil {
		logger.Fatal("state recovery failed", zap.Error(err))
	}

	var source feed.Source
	if cfg.FeedMode == "ws" {
		source = feed.NewWSSource(cfg.FeedURL, logger.Named("feed"))
	} else {
		source = feed.NewSimulator(cfg.FeedSymbols, cfg.TickInterval, logger.Named("feed"))
	}
	for _, sym := range cfg.FeedSymbols {
		mon.Subscribe(sym)
	}

	ticks := make(chan feed.Tick, 1024)
	monTicks := make(chan feed.Tick, 1024)
	go func() {
		if err := source.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			logger.Error("feed source stopped", zap.Error(err))
		}
	}()
	go mon.Run(ctx, monTicks)
	go func() {
		for t := range ticks {
			select {
			case monTicks <- t:
			case <-ctx.Done():
				return
			}
			bus.Publish(events.Event{Type: events.TypeTick, Data: t})
		}
	}()

	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:    auth.NewHandler(authSvc),
		AccountHandler: balance.NewHandler(balanceSvc),
		TradeHandler:   execution.NewHandler(execSvc),
		HealthHandler:  health.NewHandler(pool, time.Now()),
		AuthService:    authSvc,
		WSHandler:      httpserver.NewWSHandler(bus, cfg.WebSocketOrigin, logger.Named("ws")),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logger.Info("server listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("feed_mode", cfg.FeedMode),
		zap.Strings("symbols", cfg.FeedSymbols))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// recoverState reloads accounts and open positions persisted by the journal
// and re-subscribes the positions for triggering.
func recoverState(ctx context.Context, journalSvc *journal.Service, balanceSvc *balance.Service, ledger *position.Ledger, mon *monitor.Monitor, logger *zap.Logger) error {
	snaps, err := journalSvc.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		balanceSvc.Restore(snap)
	}
	open, err := journalSvc.LoadOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range open {
		ledger.Insert(pos)
		mon.Subscribe(pos.Symbol)
	}
	logger.Info("state recovered",
		zap.Int("accounts", len(snaps)),
		zap.Int("open_positions", len(open)))
	return nil
}
