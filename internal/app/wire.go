package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/jlindqvist/scalpd/internal/blob/s3"
	"github.com/jlindqvist/scalpd/internal/bus"
	"github.com/jlindqvist/scalpd/internal/config"
	"github.com/jlindqvist/scalpd/internal/crypto"
	"github.com/jlindqvist/scalpd/internal/domain"
	"github.com/jlindqvist/scalpd/internal/journal"
	"github.com/jlindqvist/scalpd/internal/notify"
	"github.com/jlindqvist/scalpd/internal/platform/okx"
	"github.com/jlindqvist/scalpd/internal/state"
)

// Dependencies bundles the shared infrastructure the engine's components use.
// Journal, Bus, and Archiver are nil when their backing service is not
// configured; the engine trades without them.
type Dependencies struct {
	Store   *state.Store
	Trading domain.TradingClient
	Account domain.AccountClient

	Journal  domain.TradeJournal
	Bus      domain.EventPublisher
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persisted engine state ---
	store, err := state.New(cfg.StateDir, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: state store: %w", err)
	}
	deps.Store = store

	// --- Exchange REST ---
	rest := okx.NewRestClient(cfg.Exchange.RestURL, &crypto.Credentials{
		Key:        cfg.Exchange.ApiKey,
		Secret:     cfg.Exchange.ApiSecret,
		Passphrase: cfg.Exchange.ApiPassphrase,
	}, cfg.Exchange.Demo)
	deps.Trading = rest
	deps.Account = rest

	// --- Trade journal (optional) ---
	if cfg.Journal.DSN != "" {
		jc, err := journal.New(ctx, journal.ClientConfig{
			DSN:      cfg.Journal.DSN,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal: %w", err)
		}
		closers = append(closers, jc.Close)

		if err := jc.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal migrations: %w", err)
		}
		deps.Journal = journal.NewTradeJournal(jc.Pool())
	}

	// --- Event bus (optional) ---
	if cfg.Redis.Addr != "" {
		rc, err := bus.New(ctx, bus.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Bus = bus.NewEventBus(rc)
	}

	// --- S3 journal archival (optional, requires the journal) ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = sc.Close() })

		deps.Archiver = s3blob.NewArchiver(sc, deps.Journal,
			cfg.S3.RetentionDays, cfg.S3.ArchiveInterval.Duration, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
