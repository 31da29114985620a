// Package server runs graftd: the modification runtime behind a network
// listener, with a single game-logic loop that owns every state change.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/config"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/events/bus"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/protocol"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
)

// InventorySize is the inventory every session entity starts with.
const InventorySize = 36

// Deps are the collaborators a Server is assembled from.
type Deps struct {
	Config    *config.Config
	Logger    log.Log
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Documents *storage.WriteBehind
	Loader    *template.Loader
	Manager   *modification.Manager
	Hub       *transport.Hub
	Authority *protocol.Authority
}

// Server represents a running graftd instance
type Server struct {
	cfg       *config.Config
	logger    log.Log
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	docs      *storage.WriteBehind
	loader    *template.Loader
	manager   *modification.Manager
	hub       *transport.Hub
	authority *protocol.Authority

	mu       sync.RWMutex
	sessions map[string]*entity.Local

	running    atomic.Bool
	closed     atomic.Bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	watcher    *template.Watcher
	http       *http.Server
	metricsSrv *http.Server
	quic       *transport.QUICServer
	flushReq   chan struct{}
	reloadSub  bus.Subscription
}

func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		logger:    d.Logger.Named("server"),
		metrics:   d.Metrics,
		gatherer:  d.Gatherer,
		docs:      d.Documents,
		loader:    d.Loader,
		manager:   d.Manager,
		hub:       d.Hub,
		authority: d.Authority,
		sessions:  make(map[string]*entity.Local),
		flushReq:  make(chan struct{}, 1),
	}
	s.hub.OnConnect(s.onConnect)
	s.hub.OnDisconnect(s.onDisconnect)
	s.hub.SetLocator(s.locate)
	return s
}

// Start loads templates, opens the listeners and starts the logic loop.
// It returns once everything is listening.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	if err := s.loadTemplates(ctx); err != nil {
		s.running.Store(false)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.group = g

	if err := s.listen(ctx, g); err != nil {
		cancel()
		s.running.Store(false)
		return err
	}

	g.Go(func() error { return s.logicLoop(ctx) })
	g.Go(func() error { return s.flushLoop(ctx) })

	s.logger.Info("server started",
		log.String("listen_addr", s.cfg.Network.ListenAddr),
		log.String("transport", s.cfg.Network.Transport),
		log.Int("templates", s.manager.Templates().Len()))
	return nil
}

func (s *Server) loadTemplates(ctx context.Context) error {
	dir := s.cfg.Templates.Dir
	if _, err := os.Stat(dir); err != nil {
		s.logger.Warn("template directory unavailable, starting empty", log.String("dir", dir), log.Error(err))
		return nil
	}
	batch, err := s.loader.LoadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	if err := s.manager.Reload(batch); err != nil {
		return fmt.Errorf("register templates: %w", err)
	}

	sub, err := s.manager.Bus().Subscribe(bus.TemplatesReloaded, func(bus.Event) error {
		return s.pushTemplateList()
	})
	if err != nil {
		return err
	}
	s.reloadSub = sub

	if !s.cfg.Templates.Watch {
		return nil
	}
	s.watcher = template.NewWatcher(dir, s.loader, s.manager.Templates(), s.logger)
	s.watcher.OnReload = func(err error) {
		if err != nil {
			return
		}
		if err := s.manager.Bus().Publish(bus.NewEvent(bus.TemplatesReloaded, bus.Event{})); err != nil {
			s.logger.Warn("reload notification failed", log.Error(err))
		}
	}
	return s.watcher.Start(ctx)
}

// pushTemplateList tells every bound peer which templates exist now.
func (s *Server) pushTemplateList() error {
	data, err := encodeJSON(s.manager.Templates().IDs())
	if err != nil {
		return err
	}
	return s.authority.PushConfig("templates", data)
}

func (s *Server) listen(ctx context.Context, g *errgroup.Group) error {
	mux := http.NewServeMux()
	s.routes(mux)

	switch s.cfg.Network.Transport {
	case "quic":
		q, err := transport.ListenQUIC(s.cfg.Network.ListenAddr, nil, s.hub, s.logger)
		if err != nil {
			return err
		}
		s.quic = q
		g.Go(func() error { return q.Serve(ctx) })
	default:
		mux.Handle("/ws", transport.NewWebSocketServer(s.hub, s.logger))
		srv, err := serve(g, s.cfg.Network.ListenAddr, mux)
		if err != nil {
			return err
		}
		s.http = srv
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.cfg.Network.Transport == "quic" {
		// without an HTTP listener the admin API shares the metrics port
		s.routes(metricsMux)
	}
	srv, err := serve(g, s.cfg.Network.MetricsAddr, metricsMux)
	if err != nil {
		return err
	}
	s.metricsSrv = srv
	return nil
}

func serve(g *errgroup.Group, addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return srv, nil
}

// Handler returns the admin and WebSocket routes, for embedding in another
// HTTP server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	mux.Handle("/ws", transport.NewWebSocketServer(s.hub, s.logger))
	return mux
}

// Run drives the logic loop on the calling goroutine until ctx ends. Start
// calls it itself; Run is for hosts that embed the server without Start.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.logicLoop(ctx) })
	g.Go(func() error { return s.flushLoop(ctx) })
	return g.Wait()
}

// logicLoop is the only goroutine that runs component hooks.
func (s *Server) logicLoop(ctx context.Context) error {
	tick := time.NewTicker(s.cfg.TickInterval())
	defer tick.Stop()
	flush := time.NewTicker(s.cfg.Store.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			s.step(ctx)
		case <-flush.C:
			if err := s.manager.Flush(ctx); err != nil {
				s.logger.Warn("persisting tick state failed", log.Error(err))
			}
			select {
			case s.flushReq <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Server) step(ctx context.Context) {
	s.manager.Drain(ctx)
	for _, e := range s.entities() {
		s.manager.Tick(ctx, e)
	}
	s.authority.Step(ctx)
}

// flushLoop pushes buffered documents to the backing store off the logic
// goroutine.
func (s *Server) flushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.flushReq:
			if err := s.docs.Flush(ctx); err != nil {
				s.logger.Warn("store flush failed", log.Int("dirty", s.docs.Dirty()), log.Error(err))
			}
		}
	}
}

// Stop closes the listeners, stops the loops and persists everything.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.closed.Store(true)
	s.logger.Info("stopping server")

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.reloadSub != nil {
		_ = s.manager.Bus().Unsubscribe(s.reloadSub)
	}
	var errs []error
	for _, srv := range []*http.Server{s.http, s.metricsSrv} {
		if srv != nil {
			errs = append(errs, srv.Shutdown(ctx))
		}
	}
	if s.quic != nil {
		errs = append(errs, s.quic.Close())
	}
	errs = append(errs, s.hub.Close())

	s.cancel()
	errs = append(errs, s.group.Wait())

	s.authority.Close()
	errs = append(errs, s.manager.Close(ctx))
	errs = append(errs, s.docs.Flush(ctx))

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
