package server

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/persist"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
)

// warmTimeout bounds the record read done before a session is opened.
const warmTimeout = 5 * time.Second

// onConnect runs on a transport goroutine. It reads the peer's record into
// the write-behind buffer here, then creates the session on the logic
// goroutine because loading it runs install hooks.
func (s *Server) onConnect(peer string) {
	fresh := entity.NewLocal(entity.ID(peer), s.docs, InventorySize, true)
	ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
	if err := s.docs.Prefetch(ctx, storage.ScopedKey(peer, persist.RecordKey)); err != nil {
		s.logger.Warn("prefetching record failed", log.String("peer", peer), log.Error(err))
	}
	cancel()

	err := s.manager.Submit(func(ctx context.Context, m *modification.Manager) error {
		// a reconnect that replaced a live link keeps its entity
		s.mu.Lock()
		e, ok := s.sessions[peer]
		if !ok {
			e = fresh
			s.sessions[peer] = e
		}
		s.mu.Unlock()
		if err := s.authority.Bind(ctx, peer, e); err != nil {
			if _, bound := s.authority.Bound(peer); !bound {
				// nothing syncs an unbound entity; the peer has to reconnect
				s.mu.Lock()
				if s.sessions[peer] == e {
					delete(s.sessions, peer)
				}
				s.mu.Unlock()
				return errors.Join(err, m.Forget(ctx, e.ID()))
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("could not open session", log.String("peer", peer), log.Error(err))
	}
}

func (s *Server) onDisconnect(peer string) {
	err := s.manager.Submit(func(ctx context.Context, m *modification.Manager) error {
		s.authority.Unbind(peer)
		s.mu.Lock()
		delete(s.sessions, peer)
		s.mu.Unlock()
		return m.Forget(ctx, entity.ID(peer))
	})
	if err != nil {
		s.logger.Warn("could not close session", log.String("peer", peer), log.Error(err))
	}
}

func (s *Server) session(peer string) (*entity.Local, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[peer]
	return e, ok
}

func (s *Server) locate(peer string) (entity.Vec3, bool) {
	e, ok := s.session(peer)
	if !ok {
		return entity.Vec3{}, false
	}
	return e.Position(), true
}

// entities lists session entities in id order so ticks are deterministic.
func (s *Server) entities() []*entity.Local {
	s.mu.RLock()
	out := make([]*entity.Local, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Sessions lists connected peers with a live entity.
func (s *Server) Sessions() []string {
	es := s.entities()
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = string(e.ID())
	}
	return out
}
