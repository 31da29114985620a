package injector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/config"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/events/bus"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/persist"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/protocol"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/resolver"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
)

// ProvideLogger builds the process logger; the cleanup flushes it.
func ProvideLogger(cfg *config.Config) (*log.Logger, func()) {
	logger := log.New(log.ParseLevel(cfg.Logging.Level))
	return logger, func() { _ = logger.Sync() }
}

// ProvideRegistry returns a private registry so tests and embedded servers
// never collide on the global one.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideDocuments opens the configured backing store behind a write-behind
// buffer. The cleanup flushes before closing the database.
func ProvideDocuments(cfg *config.Config, logger log.Log) (*storage.WriteBehind, func(), error) {
	if cfg.Store.Path == "" {
		logger.Info("using in-memory document store")
		return storage.NewWriteBehind(storage.NewMemory()), func() {}, nil
	}
	db, err := storage.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	docs := storage.NewWriteBehind(db)
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing document store failed", log.String("path", cfg.Store.Path), log.Error(err))
		}
	}
	return docs, cleanup, nil
}

func ProvideFactory(logger log.Log, m *metrics.Metrics) (*component.Factory, error) {
	f := component.NewFactory(logger, m)
	if err := component.RegisterBuiltins(f); err != nil {
		return nil, err
	}
	return f, nil
}

func ProvideStore(logger log.Log, m *metrics.Metrics) *persist.Store {
	return persist.NewStore(persist.DefaultChain(), logger, m)
}

func ProvideManager(
	reg *template.Registry,
	res *resolver.Resolver,
	store *persist.Store,
	eb bus.EventBus,
	logger log.Log,
	m *metrics.Metrics,
) *modification.Manager {
	return modification.New(modification.Options{
		Templates: reg,
		Resolver:  res,
		Store:     store,
		Bus:       eb,
		Logger:    logger,
		Metrics:   m,
	})
}

func ProvideAuthority(
	cfg *config.Config,
	mgr *modification.Manager,
	hub *transport.Hub,
	logger log.Log,
	m *metrics.Metrics,
) (*protocol.Authority, error) {
	return protocol.NewAuthority(protocol.AuthorityOptions{
		Manager:     mgr,
		Transport:   hub,
		Logger:      logger,
		Metrics:     m,
		AckTimeout:  cfg.Sync.AckTimeout,
		FlushBudget: cfg.Sync.FlushBudget,
	})
}
