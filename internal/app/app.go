// Package app wires the engine together and supervises it: configuration,
// shared infrastructure, the market-data actors, and the trading actors,
// each side restartable on its own.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jlindqvist/scalpd/internal/book"
	"github.com/jlindqvist/scalpd/internal/config"
	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/executor"
	"github.com/jlindqvist/scalpd/internal/feed"
	"github.com/jlindqvist/scalpd/internal/risk"
	"github.com/jlindqvist/scalpd/internal/scanner"
	"github.com/jlindqvist/scalpd/internal/wall"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, builds the two supervised groups, and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.Bool("demo", a.cfg.Exchange.Demo),
		slog.Int("watchlist", len(a.cfg.Scanner.Watchlist)),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// The opportunity channel outlives both groups so a market-data restart
	// never severs the executor's inbox.
	opportunities := make(chan domain.InstrumentScore, 16)
	books := &bookSource{}

	groups := []Group{
		{Name: "market_data", Start: a.startMarketData(deps, books, opportunities)},
		{Name: "trading", Start: a.startTrading(deps, books, opportunities)},
	}
	if deps.Archiver != nil {
		groups = append(groups, Group{Name: "archival", Start: deps.Archiver.Run})
	}

	return NewSupervisor(groups, a.logger).Run(ctx)
}

// startMarketData builds the book manager, wall detector, scanner, and
// exchange feed. Every restart reconstructs them; books and walls rebuild
// from the next snapshot, so no state carries over.
func (a *App) startMarketData(deps *Dependencies, books *bookSource, opportunities chan<- domain.InstrumentScore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		manager := book.NewManager(a.logger)
		books.set(manager)

		detector := wall.NewDetector(wall.Params{
			MinMultiplier:    a.cfg.Walls.MinMultiplier,
			Persistence:      a.cfg.Walls.Persistence.Duration,
			MinAbsorption:    a.cfg.Walls.MinAbsorption,
			MaxDistancePct:   a.cfg.Walls.MaxDistancePct,
			RoundNumberBonus: a.cfg.Walls.RoundNumberBonus,
			MinSignalScore:   a.cfg.Scanner.MinSignalScore,
			StopLossPct:      a.cfg.Trade.StopLossPct,
			TakeProfitPct:    a.cfg.Trade.TakeProfitPct,
		}, a.logger)

		scan := scanner.NewScanner(scanner.Params{
			Watchlist:      a.cfg.Scanner.Watchlist,
			MinSignalScore: a.cfg.Scanner.MinSignalScore,
			MaxSpreadPct:   a.cfg.Scanner.MaxSpreadPct,
			MinVolume24h:   a.cfg.Scanner.MinVolume24h,
			ScanInterval:   a.cfg.Scanner.ScanInterval.Duration,
		}, detector, a.logger)
		if deps.Bus != nil {
			scan.SetEventPublisher(deps.Bus)
		}

		marketFeed := feed.NewMarketFeed(
			a.cfg.Exchange.PublicWsURL,
			a.cfg.Scanner.Watchlist,
			manager, detector, scan,
			a.logger,
		)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return manager.Run(ctx) })
		g.Go(func() error { return detector.Run(ctx, manager.Subscribe()) })
		g.Go(func() error { return scan.Run(ctx) })
		g.Go(func() error { return marketFeed.Run(ctx) })
		g.Go(func() error { return forward(ctx, scan.Subscribe(), opportunities) })
		return g.Wait()
	}
}

// startTrading builds the risk manager and executor. The executor re-runs
// reconciliation at the top of every start, so a trading restart never
// resumes on stale assumptions.
func (a *App) startTrading(deps *Dependencies, books *bookSource, opportunities <-chan domain.InstrumentScore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		riskMgr := risk.NewManager(risk.Params{
			RiskPerTrade:         a.cfg.Risk.RiskPerTrade,
			InitialBalance:       a.cfg.Risk.InitialBalance,
			MaxDailyLoss:         a.cfg.Risk.MaxDailyLoss,
			MaxWeeklyLoss:        a.cfg.Risk.MaxWeeklyLoss,
			MaxMonthlyLoss:       a.cfg.Risk.MaxMonthlyLoss,
			MaxConsecutiveLosses: a.cfg.Risk.MaxConsecutiveLosses,
			CooldownAfterLoss:    a.cfg.Risk.CooldownAfterLoss.Duration,
			ConsecutiveLossPause: a.cfg.Risk.ConsecutiveLossPause.Duration,
		}, deps.Store, deps.Account, a.logger)
		if deps.Bus != nil {
			riskMgr.SetEventPublisher(deps.Bus)
		}
		riskMgr.SetAlerter(deps.Notifier)

		exec := executor.New(executor.Params{
			Leverage:      float64(a.cfg.Risk.Leverage),
			MarginMode:    domain.MarginMode(a.cfg.Risk.MarginMode),
			StopLossPct:   a.cfg.Trade.StopLossPct,
			TakeProfitPct: a.cfg.Trade.TakeProfitPct,
			MaxHoldTime:   a.cfg.Trade.MaxHoldTime.Duration,
		}, deps.Trading, riskMgr, deps.Store, a.logger)

		exec.SetPriceSource(books)
		if deps.Journal != nil {
			exec.SetJournal(deps.Journal)
		}
		if deps.Bus != nil {
			exec.SetEventPublisher(deps.Bus)
		}
		exec.SetAlerter(deps.Notifier)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return riskMgr.Run(ctx) })
		g.Go(func() error { return exec.Run(ctx, opportunities) })
		return g.Wait()
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// forward copies opportunities from a scanner subscription into the durable
// channel, dropping when the executor is behind; only the freshest
// opportunity matters.
func forward(ctx context.Context, in <-chan domain.InstrumentScore, out chan<- domain.InstrumentScore) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case score, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- score:
			default:
			}
		}
	}
}

// bookSource hands the executor whatever book manager the market-data group
// is currently running. Before the first start, or mid-restart, there is no
// manager and no book.
type bookSource struct {
	mu  sync.RWMutex
	mgr *book.Manager
}

func (b *bookSource) set(m *book.Manager) {
	b.mu.Lock()
	b.mgr = m
	b.mu.Unlock()
}

// Book implements executor.PriceSource.
func (b *bookSource) Book(ctx context.Context, instID string) (domain.BookState, error) {
	b.mu.RLock()
	m := b.mgr
	b.mu.RUnlock()
	if m == nil {
		return domain.BookState{}, domain.ErrNoBook
	}
	return m.Book(ctx, instID)
}
