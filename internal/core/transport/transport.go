// Package transport moves opaque frames between peers. It knows nothing
// about frame contents beyond the length prefix used on stream links.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/entity"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

var (
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrClosed        = errors.New("transport closed")
	ErrFrameTooLarge = errors.New("frame too large")
)

// DefaultMaxFrameSize caps a single inbound frame.
const DefaultMaxFrameSize = 1 << 20

// Handler receives one frame from a peer. It runs on the link's read
// goroutine and must not block for long.
type Handler func(peer string, frame []byte)

// Transport sends frames to one peer, to every peer, or to peers near a point.
type Transport interface {
	Send(peer string, frame []byte) error
	Broadcast(frame []byte) error
	SendNear(origin entity.Vec3, radius float64, frame []byte) error
	OnFrame(h Handler)
}

// Link is one connected peer.
type Link interface {
	Peer() string
	Write(frame []byte) error
	Close() error
}

// Locator resolves the world position of a peer's entity for SendNear.
type Locator func(peer string) (entity.Vec3, bool)

// Hub is a Transport over any number of links. Links attach as they connect
// and detach when their read loop ends.
type Hub struct {
	mu           sync.RWMutex
	links        map[string]Link
	handler      Handler
	locate       Locator
	onConnect    func(peer string)
	onDisconnect func(peer string)
	closed       bool
	logger       log.Log
}

func NewHub(logger log.Log) *Hub {
	return &Hub{
		links:  make(map[string]Link),
		logger: logger.Named("transport"),
	}
}

func (h *Hub) OnFrame(fn Handler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

func (h *Hub) SetLocator(fn Locator) {
	h.mu.Lock()
	h.locate = fn
	h.mu.Unlock()
}

// OnConnect and OnDisconnect callbacks run outside the hub lock.
func (h *Hub) OnConnect(fn func(peer string)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

func (h *Hub) OnDisconnect(fn func(peer string)) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

// Attach registers l. A link already registered under the same peer is
// closed and replaced.
func (h *Hub) Attach(l Link) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = l.Close()
		return ErrClosed
	}
	old := h.links[l.Peer()]
	h.links[l.Peer()] = l
	cb := h.onConnect
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	h.logger.Info("peer connected", log.String("peer", l.Peer()))
	if cb != nil {
		cb(l.Peer())
	}
	return nil
}

// Detach removes l if it is still the registered link for its peer.
func (h *Hub) Detach(l Link) {
	h.mu.Lock()
	cur, ok := h.links[l.Peer()]
	if !ok || cur != l {
		h.mu.Unlock()
		return
	}
	delete(h.links, l.Peer())
	cb := h.onDisconnect
	h.mu.Unlock()

	_ = l.Close()
	h.logger.Info("peer disconnected", log.String("peer", l.Peer()))
	if cb != nil {
		cb(l.Peer())
	}
}

// Deliver hands an inbound frame to the handler.
func (h *Hub) Deliver(peer string, frame []byte) {
	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()
	if fn != nil {
		fn(peer, frame)
	}
}

func (h *Hub) Send(peer string, frame []byte) error {
	h.mu.RLock()
	l, ok := h.links[peer]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return l.Write(frame)
}

func (h *Hub) Broadcast(frame []byte) error {
	var errs []error
	for _, l := range h.snapshot() {
		if err := l.Write(frame); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", l.Peer(), err))
		}
	}
	return errors.Join(errs...)
}

// SendNear writes to every peer whose entity lies within radius of origin.
// Without a locator nothing is sent.
func (h *Hub) SendNear(origin entity.Vec3, radius float64, frame []byte) error {
	h.mu.RLock()
	locate := h.locate
	h.mu.RUnlock()
	if locate == nil {
		return nil
	}

	var errs []error
	for _, l := range h.snapshot() {
		pos, ok := locate(l.Peer())
		if !ok || pos.DistanceTo(origin) > radius {
			continue
		}
		if err := l.Write(frame); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", l.Peer(), err))
		}
	}
	return errors.Join(errs...)
}

// Peers lists connected peers in name order.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.links))
	for p := range h.links {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close closes every link. Attach fails afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	links := h.links
	h.links = make(map[string]Link)
	h.mu.Unlock()

	var errs []error
	for _, l := range links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) snapshot() []Link {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Link, 0, len(h.links))
	for _, l := range h.links {
		out = append(out, l)
	}
	return out
}

// ReadFrame reads one length-prefixed frame, prefix included, from a stream.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n+4 > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n+4)
	}
	out := make([]byte, 4+n)
	copy(out, hdr[:])
	if _, err := io.ReadFull(r, out[4:]); err != nil {
		return nil, err
	}
	return out, nil
}

// writePrefixed writes payload behind a u32 length prefix.
func writePrefixed(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
