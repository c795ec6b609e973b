// Package daemon composes the client: config, cache, relay provider, chat
// session, outbox sender and status machine, wired through fx with lifecycle
// hooks for orderly startup and shutdown.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"teamchat/internal/bus"
	"teamchat/internal/chat"
	"teamchat/internal/config"
	"teamchat/internal/logging"
	"teamchat/internal/outbox"
	"teamchat/internal/profile"
	"teamchat/internal/relay"
	"teamchat/internal/rest"
	"teamchat/internal/status"
	"teamchat/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRESTClient,
			provideProvider,
			provideSession,
			provideSender,
			provideMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := profile.AcquireLock(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRESTClient(cfg *config.Config) *rest.Client {
	return rest.New(cfg.API.BaseURL, cfg.API.Token)
}

func provideProvider(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *relay.Provider {
	// The subscription list is empty until the first conversation load;
	// the lifecycle hook dials with the loaded ids.
	return relay.NewProvider(cfg.Relay.URL, cfg.API.Token, nil, b, logger)
}

func provideSession(cfg *config.Config, api *rest.Client, p *relay.Provider, db *store.DB, b *bus.Bus, logger *zap.Logger) *chat.Session {
	return chat.NewSession(cfg.Team.UserID, cfg.Team.ID, api, p, db, b, logger)
}

func provideSender(db *store.DB, p *relay.Provider, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.New(db, p, b, logger, outbox.DefaultInterval)
}

func provideMetricsServer(cfg *config.Config, logger *zap.Logger) *MetricsServer {
	return NewMetricsServer(cfg.Metrics.Addr, logger)
}

func registerLifecycle(lc fx.Lifecycle, sess *chat.Session, provider *relay.Provider, sender *outbox.Sender, srv *MetricsServer, machine *status.Machine, lk *profile.Lock, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	watcherQuit := make(chan struct{})
	watcherDone := make(chan struct{})
	var stopWatcher func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Connecting)

			degraded := false
			if err := sess.LoadConversations(context.Background()); err != nil {
				// Cached summaries keep the client usable; the relay
				// may still come up.
				logger.Warn("initial conversation load failed", zap.Error(err))
				degraded = true
			}

			sess.Attach(provider)

			if err := provider.Resubscribe(context.Background(), sess.ConversationIDs()); err != nil {
				logger.Error("relay connect failed", zap.Error(err))
				_ = machine.Transition(status.Error)
				return err
			}

			if degraded {
				_ = machine.Transition(status.Degraded)
			} else {
				_ = machine.Transition(status.Ready)
			}

			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("metrics listener error", zap.Error(err))
				}
			}()

			// Keep the status machine in step with relay liveness.
			events, unsub := b.Subscribe("relay.", 16)
			stopWatcher = unsub
			go func() {
				defer close(watcherDone)
				for {
					select {
					case <-watcherQuit:
						return
					case evt := <-events:
						switch evt.Kind {
						case bus.KindRelayDisconnected:
							_ = machine.Transition(status.Reconnecting)
						case bus.KindRelayConnected:
							_ = machine.Transition(status.Ready)
						}
					}
				}
			}()

			logger.Info("daemon started", zap.String("status", string(machine.Current())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			sess.Detach()
			provider.Close()
			srv.Stop(ctx)
			if stopWatcher != nil {
				stopWatcher()
				close(watcherQuit)
				<-watcherDone
			}
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
