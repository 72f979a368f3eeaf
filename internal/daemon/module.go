package daemon

import (
	"context"
	"io"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/remotememo/internal/api"
	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/lock"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/outbox"
	"github.com/matheus3301/remotememo/internal/profile"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	intsync "github.com/matheus3301/remotememo/internal/sync"
	"github.com/matheus3301/remotememo/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	LogLevel    zapcore.Level
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideIdentity,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideSubscriber,
			provideSender,
			provideReconciler,
			provideIngester,
			provideAppSync,
			provideStatusScheduler,
			provideLedgerScheduler,
			provideInbound,
			provideControlService,
			NewServer,
		),
		fx.Invoke(mirrorSettings, registerLifecycle),
	)
}

// provideConfig loads the profile config. A profile without a device id
// gets a fresh random one, persisted so it stays stable across restarts.
func provideConfig(p Params) (*config.Config, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	cfg, err := profile.LoadConfig(p.ProfileName)
	if err != nil {
		return nil, err
	}
	if cfg.DeviceID == "" {
		id, err := config.GenerateDeviceID()
		if err != nil {
			return nil, err
		}
		cfg.DeviceID = id
		if err := config.Save(profile.ConfigPath(p.ProfileName), cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideIdentity(cfg *config.Config) config.Identity {
	return cfg.Identity()
}

func provideLogger(p Params, id config.Identity) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, id.DeviceID, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, id config.Identity, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName), id.DeviceID)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so no second daemon opens the database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	schema, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if schema.Changed() {
		logger.Info("store schema upgraded", zap.Uint("from", schema.From), zap.Uint("to", schema.Version))
	} else {
		logger.Debug("store schema current", zap.Uint("version", schema.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *transport.Client {
	return transport.New(transport.Options{
		BaseURL:          cfg.RelayURL,
		DeviceID:         cfg.DeviceID,
		RequestTimeout:   cfg.Transport.RequestTimeout.Duration,
		SubscribeTimeout: cfg.Sync.SubscribeTimeout.Duration,
		Logger:           logger,
	})
}

func provideSubscriber(cfg *config.Config, client *transport.Client, logger *zap.Logger) intsync.Subscriber {
	if cfg.Transport.Inbound == config.InboundWebsocket {
		return transport.NewWSSubscriber(cfg.RelayURL, cfg.DeviceID, cfg.Sync.SubscribeTimeout.Duration, logger)
	}
	return client
}

func provideSender(db *store.DB, client *transport.Client, b *bus.Bus, id config.Identity, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, id, logger)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideIngester(db *store.DB, b *bus.Bus, id config.Identity, logger *zap.Logger) *intsync.Ingester {
	return intsync.NewIngester(db, b, id, logger)
}

func provideAppSync(cfg *config.Config, db *store.DB, client *transport.Client, sender *outbox.Sender, ing *intsync.Ingester, b *bus.Bus, id config.Identity, rec *intsync.Reconciler, logger *zap.Logger) *intsync.AppSync {
	return intsync.NewAppSync(db, client, sender, ing, b, id, cfg.Sync.AppSyncInterval.Duration, rec, logger)
}

func provideStatusScheduler(cfg *config.Config, db *store.DB, client *transport.Client, b *bus.Bus, id config.Identity, rec *intsync.Reconciler, logger *zap.Logger) *intsync.StatusScheduler {
	return intsync.NewStatusScheduler(db, client, b, id, cfg.Sync.StatusInterval.Duration, rec, logger)
}

func provideLedgerScheduler(cfg *config.Config, db *store.DB, client *transport.Client, m *status.Machine, app *intsync.AppSync, b *bus.Bus, id config.Identity, rec *intsync.Reconciler, logger *zap.Logger) *intsync.LedgerScheduler {
	opts := intsync.LedgerOptions{
		Interval:    cfg.Sync.LedgerInterval.Duration,
		MaxFailures: cfg.Sync.MaxFailures,
	}
	return intsync.NewLedgerScheduler(db, client, m, app, b, id, opts, rec, logger)
}

func provideInbound(db *store.DB, sub intsync.Subscriber, ing *intsync.Ingester, m *status.Machine, b *bus.Bus, rec *intsync.Reconciler, logger *zap.Logger) *intsync.Inbound {
	return intsync.NewInbound(db, sub, ing, m, b, rec, logger)
}

func provideControlService(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, m *status.Machine, app *intsync.AppSync, sender *outbox.Sender, st *intsync.StatusScheduler, ledger *intsync.LedgerScheduler, rec *intsync.Reconciler, id config.Identity, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(api.ControlOptions{
		Profile:     p.ProfileName,
		DB:          db,
		Bus:         b,
		Machine:     m,
		Sync:        app,
		Mailer:      sender,
		StatusSync:  st,
		Ledger:      ledger,
		Checkpoints: rec,
		Identity:    id,
		RelayURL:    cfg.RelayURL,
		Logger:      logger,
	})
}

// mirrorSettings copies the identity and retention from config.toml into
// the settings table, where the schedulers and offline tools read them.
func mirrorSettings(cfg *config.Config, db *store.DB, logger *zap.Logger) error {
	ctx := context.Background()
	values := map[string]string{
		store.KeyDeviceID:           cfg.DeviceID,
		store.KeyPeerID:             cfg.PeerID,
		store.KeyRelayURL:           cfg.RelayURL,
		store.KeyMessageExpiryHours: strconv.Itoa(cfg.MessageExpiryHours),
	}
	for key, value := range values {
		if value == "" {
			if err := db.RemoveSetting(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := db.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}
	logger.Info("settings mirrored",
		zap.String("device_id", cfg.DeviceID),
		zap.String("peer_id", cfg.PeerID),
		zap.Int("message_expiry_hours", cfg.MessageExpiryHours),
	)
	return nil
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	client *transport.Client,
	sub intsync.Subscriber,
	inbound *intsync.Inbound,
	statusSync *intsync.StatusScheduler,
	ledger *intsync.LedgerScheduler,
	app *intsync.AppSync,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			inbound.Start(runCtx)
			statusSync.Start(runCtx)
			ledger.Start(runCtx)
			app.Start(runCtx)

			// Retry anything left undelivered by the previous run.
			go app.SyncWithPeer(runCtx, false, "startup")

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			app.Stop()
			ledger.Stop()
			statusSync.Stop()
			inbound.Stop()
			if c, ok := sub.(io.Closer); ok {
				_ = c.Close()
			}
			_ = client.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
