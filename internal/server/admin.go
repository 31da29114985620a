package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/slot"
)

const (
	adminTimeout    = 5 * time.Second
	requestIDHeader = "X-Request-ID"
)

func encodeJSON(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /templates", s.handleTemplates)
	mux.HandleFunc("GET /entities/{id}/slots", traced(s.handleQuery))
	mux.HandleFunc("GET /entities/{id}/grants/{template}", traced(s.handleExplain))
	mux.HandleFunc("POST /entities/{id}/grants/{template}", traced(s.handleGrant))
	mux.HandleFunc("DELETE /entities/{id}/grants/{template}", traced(s.handleRevoke))
	mux.HandleFunc("DELETE /entities/{id}/slots/{slot}", traced(s.handleRevokeSlot))
}

// traced tags the request context, and so its log lines, with a request id
// taken from the caller or generated.
func traced(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		h(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	}
}

type errorResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := encodeJSON(v)
	if err != nil {
		s.logger.Error("encode response", log.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var ge *modification.GrantError
	if errors.As(err, &ge) {
		resp.Code = string(ge.Code)
		resp.Diagnostics = ge.Diagnostics
	}
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, modification.ErrTemplateNotFound),
		errors.Is(err, modification.ErrSlotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, modification.ErrLimitReached),
		errors.Is(err, modification.ErrIncompatible):
		status = http.StatusConflict
	case errors.Is(err, modification.ErrMailboxFull),
		errors.Is(err, modification.ErrUnavailable),
		errors.Is(err, ErrBusy):
		status = http.StatusServiceUnavailable
	}

	logger := s.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Warn("admin request failed", log.String("path", r.URL.Path), log.Int("status", status), log.Error(err))
	} else {
		logger.Debug("admin request rejected", log.String("path", r.URL.Path), log.Int("status", status), log.Error(err))
	}
	s.writeJSON(w, status, resp)
}

// do runs fn on the logic goroutine and waits for its result.
func (s *Server) do(ctx context.Context, fn func(ctx context.Context, m *modification.Manager) error) error {
	done := make(chan error, 1)
	err := s.manager.Submit(func(ctx context.Context, m *modification.Manager) error {
		err := fn(ctx, m)
		done <- err
		return err
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrBusy
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  len(s.Sessions()),
		"templates": s.manager.Templates().Len(),
		"pending":   s.manager.Pending(),
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Templates().IDs())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, ErrSessionNotFound)
		return
	}
	var views []slot.View
	err := s.do(r.Context(), func(ctx context.Context, m *modification.Manager) error {
		if err := m.Load(ctx, e); err != nil {
			return err
		}
		views = m.Query(ctx, e)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if views == nil {
		views = []slot.View{}
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, ErrSessionNotFound)
		return
	}
	t, ok := s.manager.Templates().Get(r.PathValue("template"))
	if !ok {
		s.writeError(w, r, modification.ErrTemplateNotFound)
		return
	}
	var d modification.Decision
	err := s.do(r.Context(), func(ctx context.Context, m *modification.Manager) error {
		if err := m.Load(ctx, e); err != nil {
			return err
		}
		d = m.Explain(ctx, e, t)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"allowed":       d.Allowed,
		"installed":     d.Installed,
		"max_instances": d.MaxInstances,
		"synergies":     d.Compatibility.Synergies,
		"diagnostics":   d.Diagnostics,
	})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, ErrSessionNotFound)
		return
	}
	templateID := r.PathValue("template")
	var id slot.ID
	err := s.do(r.Context(), func(ctx context.Context, m *modification.Manager) error {
		var err error
		id, err = m.Grant(ctx, e, templateID)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"slot": string(id)})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, ErrSessionNotFound)
		return
	}
	templateID := r.PathValue("template")
	err := s.do(r.Context(), func(ctx context.Context, m *modification.Manager) error {
		return m.Revoke(ctx, e, templateID)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeSlot(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, ErrSessionNotFound)
		return
	}
	id := slot.ID(r.PathValue("slot"))
	err := s.do(r.Context(), func(ctx context.Context, m *modification.Manager) error {
		return m.RevokeSlot(ctx, e, id)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
