// Package feed bridges the exchange's public market-data stream into the
// engine: book frames go to the book manager, trade prints to the wall
// detector, ticker updates to the scanner.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/platform/okx"
)

// BookSink receives order-book snapshots and deltas.
type BookSink interface {
	HandleEvent(ctx context.Context, ev domain.BookEvent)
}

// TradeSink receives public trade prints.
type TradeSink interface {
	HandleTrade(ctx context.Context, ev domain.TradeEvent)
}

// TickerSink receives ticker updates.
type TickerSink interface {
	HandleTicker(ctx context.Context, ev domain.TickerEvent)
}

// MarketFeed subscribes to books, trades, and tickers for the watchlist and
// pushes every frame to the registered sinks. It reconnects on disconnect.
type MarketFeed struct {
	wsURL   string
	instIDs []string

	books   BookSink
	trades  TradeSink
	tickers TickerSink

	logger *slog.Logger
}

// NewMarketFeed creates a feed for the given watchlist instruments.
func NewMarketFeed(wsURL string, instIDs []string, books BookSink, trades TradeSink, tickers TickerSink, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:   wsURL,
		instIDs: instIDs,
		books:   books,
		trades:  trades,
		tickers: tickers,
		logger:  logger.With(slog.String("component", "market_feed")),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled. Connection
// failures are retried; the WS client itself handles mid-stream reconnects
// and resubscription.
func (f *MarketFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market feed disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *MarketFeed) runConnection(ctx context.Context) error {
	client := okx.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBook(func(ev domain.BookEvent) {
		if f.books != nil {
			f.books.HandleEvent(ctx, ev)
		}
	})
	client.OnTrade(func(ev domain.TradeEvent) {
		if f.trades != nil {
			f.trades.HandleTrade(ctx, ev)
		}
	})
	client.OnTicker(func(ev domain.TickerEvent) {
		if f.tickers != nil {
			f.tickers.HandleTicker(ctx, ev)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	channels := []string{"books", "trades", "tickers"}
	if err := client.Subscribe(ctx, channels, f.instIDs); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed",
		slog.Int("instruments", len(f.instIDs)),
	)

	<-ctx.Done()
	return ctx.Err()
}
