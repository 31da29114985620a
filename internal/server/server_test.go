package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/config"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/modification"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/protocol"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/resolver"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/storage"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/transport"
)

const templatesYAML = `
templates:
  - id: simple_hand
    slot_type: hand
    components:
      inventory:
        size: 3
      skill:
        name: grab
        cooldown: 2
  - id: booster
    slot_type: core
    max_instances: 2
    components:
      attribute_modification:
        attribute: attack_damage
        amount: 2
`

type fixture struct {
	server *Server
	url    string
	docs   *storage.WriteBehind
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, storage.NewMemory())
}

func newFixtureWith(t *testing.T, backend storage.Documents) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.yaml"), []byte(templatesYAML), 0o644))

	cfg := config.Default()
	cfg.Templates.Dir = dir
	cfg.Templates.Watch = false
	cfg.Runtime.TickRate = 200
	cfg.Store.FlushInterval = 50 * time.Millisecond

	f := component.NewFactory(log.Nop(), nil)
	require.NoError(t, component.RegisterBuiltins(f))
	loader := template.NewLoader(f, log.Nop(), nil)
	mgr := modification.New(modification.Options{Resolver: resolver.FromFactory(f), Logger: log.Nop()})

	batch, err := loader.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, mgr.Reload(batch))

	hub := transport.NewHub(log.Nop())
	auth, err := protocol.NewAuthority(protocol.AuthorityOptions{Manager: mgr, Transport: hub, Logger: log.Nop()})
	require.NoError(t, err)

	docs := storage.NewWriteBehind(backend)
	s := New(Deps{
		Config:    cfg,
		Logger:    log.Nop(),
		Documents: docs,
		Loader:    loader,
		Manager:   mgr,
		Hub:       hub,
		Authority: auth,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
		cancel()
		require.NoError(t, <-done)
		auth.Close()
	})
	return &fixture{server: s, url: srv.URL, docs: docs}
}

// connect dials a player and waits until the server has a session for it.
func (fx *fixture) connect(t *testing.T, peer string) *protocol.Mirror {
	t.Helper()
	client := transport.NewHub(log.Nop())
	mirror, err := protocol.NewMirror(protocol.MirrorOptions{Transport: client, Authority: "server", Logger: log.Nop()})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(fx.url, "http") + "/ws"
	_, err = transport.DialWebSocket(context.Background(), wsURL, peer, "server", client, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool {
		_, ok := fx.server.session(peer)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return mirror
}

func (fx *fixture) request(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, fx.url+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t)

	status, body := fx.request(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, sonic.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["templates"])

	status, body = fx.request(t, http.MethodGet, "/templates")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["booster","simple_hand"]`, string(body))
}

func TestGrantReachesConnectedPlayer(t *testing.T) {
	fx := newFixture(t)
	mirror := fx.connect(t, "player-1")

	status, body := fx.request(t, http.MethodPost, "/entities/player-1/grants/simple_hand")
	require.Equal(t, http.StatusCreated, status, string(body))

	var created map[string]string
	require.NoError(t, sonic.Unmarshal(body, &created))
	require.NotEmpty(t, created["slot"])

	require.Eventually(t, func() bool {
		return len(mirror.Slots("player-1")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	status, body = fx.request(t, http.MethodGet, "/entities/player-1/slots")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "simple_hand")

	// the removal shares the slot's incremental rate limit with the grant
	spec, _ := protocol.KindIncremental.Spec()
	time.Sleep(spec.MinInterval + 10*time.Millisecond)

	status, _ = fx.request(t, http.MethodDelete, "/entities/player-1/slots/"+created["slot"])
	require.Equal(t, http.StatusNoContent, status)
	require.Eventually(t, func() bool {
		return len(mirror.Slots("player-1")) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAdminErrors(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "player-1")

	status, _ := fx.request(t, http.MethodPost, "/entities/nobody/grants/simple_hand")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := fx.request(t, http.MethodPost, "/entities/player-1/grants/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "template_not_found")

	for range 2 {
		status, _ = fx.request(t, http.MethodPost, "/entities/player-1/grants/booster")
		require.Equal(t, http.StatusCreated, status)
	}
	status, body = fx.request(t, http.MethodPost, "/entities/player-1/grants/booster")
	assert.Equal(t, http.StatusConflict, status)
	var resp errorResponse
	require.NoError(t, sonic.Unmarshal(body, &resp))
	assert.Equal(t, "limit_reached", resp.Code)

	status, body = fx.request(t, http.MethodGet, "/entities/player-1/grants/booster")
	require.Equal(t, http.StatusOK, status)
	var decision map[string]any
	require.NoError(t, sonic.Unmarshal(body, &decision))
	assert.Equal(t, false, decision["allowed"])
	assert.EqualValues(t, 2, decision["installed"])

	status, _ = fx.request(t, http.MethodDelete, "/entities/player-1/slots/no-such-slot")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDisconnectPersistsSession(t *testing.T) {
	fx := newFixture(t)
	client := transport.NewHub(log.Nop())
	_, err := protocol.NewMirror(protocol.MirrorOptions{Transport: client, Authority: "server", Logger: log.Nop()})
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(fx.url, "http") + "/ws"
	_, err = transport.DialWebSocket(context.Background(), wsURL, "player-2", "server", client, log.Nop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := fx.server.session("player-2")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	status, _ := fx.request(t, http.MethodPost, "/entities/player-2/grants/booster")
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		_, ok := fx.server.session("player-2")
		return !ok && !fx.server.manager.Cached(entity.ID("player-2"))
	}, 2*time.Second, 5*time.Millisecond)

	keys, err := fx.docs.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, keys, "slot record written on forget")
}

// unreadable fails every read below one entity's scope.
type unreadable struct {
	storage.Documents
	scope string
	reads atomic.Int32
}

func (u *unreadable) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, u.scope+"/") {
		u.reads.Add(1)
		return nil, errors.New("disk on fire")
	}
	return u.Documents.Get(ctx, key)
}

func TestSessionDroppedWhenBindFails(t *testing.T) {
	backend := &unreadable{Documents: storage.NewMemory(), scope: "player-3"}
	fx := newFixtureWith(t, backend)

	client := transport.NewHub(log.Nop())
	_, err := protocol.NewMirror(protocol.MirrorOptions{Transport: client, Authority: "server", Logger: log.Nop()})
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(fx.url, "http") + "/ws"
	_, err = transport.DialWebSocket(context.Background(), wsURL, "player-3", "server", client, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// one read while warming, one while binding
	require.Eventually(t, func() bool { return backend.reads.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := fx.server.session("player-3")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	_, bound := fx.server.authority.Bound("player-3")
	assert.False(t, bound)
	assert.False(t, fx.server.manager.Cached(entity.ID("player-3")))
	assert.NotContains(t, fx.server.Sessions(), "player-3")
}

func TestRequestIDEchoed(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "player-1")

	req, err := http.NewRequest(http.MethodGet, fx.url+"/entities/player-1/slots", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))

	resp2, err := http.Post(fx.url+"/entities/nobody/grants/booster", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get(requestIDHeader), "generated when absent")
}
