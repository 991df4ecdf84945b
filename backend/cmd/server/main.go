package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/quotes"
	"github.com/user/papertrade/backend/internal/trading"
	internalws "github.com/user/papertrade/backend/internal/websocket"
)

const (
	connectAttempts = 10
	shutdownTimeout = 10 * time.Second
)

// userStore is what the server needs from a ledger backend.
type userStore interface {
	ledger.Store
	ledger.Users
}

func main() {
	os.Exit(run())
}

// run wires the server and blocks until it stops. Failures return a non-zero
// exit code so the deferred cleanups still run.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("FATAL: configuration error: %v", err)
		return 1
	}

	ring, logCloser := logger.Setup(cfg.LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups, cfg.LogBufferSize)
	defer logCloser.Close()
	cfg.LogSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		log.Printf("FATAL: ledger unavailable: %v", err)
		return 1
	}
	defer closeStore()

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Printf("FATAL: %v", err)
		return 1
	}

	var (
		wg  conc.WaitGroup
		sim *quotes.Simulator
		src quotes.Source
		hub *internalws.Hub
	)
	switch cfg.QuoteSource {
	case config.QuoteAlpaca:
		src = quotes.NewAlpacaSource(cfg.AlpacaKeyID, cfg.AlpacaSecretKey, cfg.AlpacaBaseURL)
		log.Println("Using Alpaca market data for quotes")
	default:
		sim = quotes.NewSimulator(cfg.SimSymbols)
		src = sim
		hub = internalws.NewHub(sim.Snapshot)
		wg.Go(func() { sim.Run(ctx, cfg.SimTick) })
		wg.Go(func() { hub.Run(ctx, sim.Updates()) })
	}
	provider := quotes.NewClient(src, cfg.QuoteTimeout, cfg.QuoteConcurrency)

	opts := []trading.Option{trading.WithCurrencyScale(cfg.CurrencyScale)}
	engine := trading.NewEngine(store, provider, opts...)
	portfolio := trading.NewPortfolio(store, provider, opts...)
	scheduler := trading.NewScheduler(engine, cfg.LimitOrderInterval, cfg.SchedulerWorkers)
	wg.Go(func() { scheduler.Run(ctx) })

	app := handlers.NewApp(handlers.New(handlers.Deps{
		Engine:    engine,
		Portfolio: portfolio,
		Users:     store,
		Tokens:    tokens,
		Quotes:    provider,
		Logs:      ring,
		Hub:       hub,
		Limiter:   middleware.NewLimiter(cfg.OrderRateLimit, cfg.OrderRateBurst),
		Admins:    cfg.AdminUsers,
	}))

	wg.Go(func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Printf("ERROR: server shutdown: %v", err)
		}
	})

	code := 0
	log.Printf("Starting server on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("ERROR: server stopped: %v", err)
		code = 1
		stop()
	}
	wg.Wait()
	log.Println("Server exited")
	return code
}

// openLedger returns the configured backend and its cleanup function.
func openLedger(ctx context.Context, cfg *config.Config) (userStore, func(), error) {
	if cfg.LedgerBackend == config.LedgerMemory {
		log.Println("WARN: using in-memory ledger; balances are lost on restart")
		return ledger.NewMemoryStore(cfg.StartingBalance), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL, connectAttempts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	store := database.NewStore(pool, cfg.StartingBalance)
	return store, store.Close, nil
}
