package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

// ALPN is the application protocol negotiated on QUIC links.
const ALPN = "arsenal-graft"

const maxHelloSize = 256

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	}
}

// QUICServer accepts QUIC connections into a hub. Every connection carries
// one bidirectional stream: the client opens it and first sends its peer
// name, then both sides exchange length-prefixed frames.
type QUICServer struct {
	listener *quic.Listener
	hub      *Hub
	logger   log.Log
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// ListenQUIC listens on addr. A nil tlsConf gets a self-signed certificate.
func ListenQUIC(addr string, tlsConf *tls.Config, hub *Hub, logger log.Log) (*QUICServer, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = SelfSignedTLS(); err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &QUICServer{listener: ln, hub: hub, logger: logger.Named("quic")}, nil
}

func (s *QUICServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx ends or the listener closes.
func (s *QUICServer) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *QUICServer) handle(ctx context.Context, conn *quic.Conn) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	hello, err := ReadFrame(stream, maxHelloSize)
	if err != nil || len(hello) == 4 {
		s.logger.Debug("bad hello", log.String("remote", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.CloseWithError(1, "bad hello")
		return
	}
	l := &quicLink{peer: string(hello[4:]), conn: conn, stream: stream}
	if err := s.hub.Attach(l); err != nil {
		return
	}
	l.readLoop(s.hub, s.logger)
}

func (s *QUICServer) Close() error {
	s.closed.Store(true)
	return s.listener.Close()
}

// DialQUIC connects to a QUICServer as peer and attaches the server to hub
// under the name remote. Certificates are not verified unless tlsConf says so.
func DialQUIC(ctx context.Context, addr, peer, remote string, tlsConf *tls.Config, hub *Hub, logger log.Log) (Link, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{ALPN}}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := writePrefixed(stream, []byte(peer)); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	l := &quicLink{peer: remote, conn: conn, stream: stream}
	if err := hub.Attach(l); err != nil {
		return nil, err
	}
	go l.readLoop(hub, logger.Named("quic"))
	return l, nil
}

type quicLink struct {
	peer   string
	conn   *quic.Conn
	stream *quic.Stream

	writeMu sync.Mutex
}

func (l *quicLink) Peer() string { return l.peer }

// Write sends a frame that already carries its length prefix.
func (l *quicLink) Write(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.stream.Write(frame)
	return err
}

func (l *quicLink) Close() error {
	return l.conn.CloseWithError(0, "closed")
}

func (l *quicLink) readLoop(hub *Hub, logger log.Log) {
	defer hub.Detach(l)
	for {
		frame, err := ReadFrame(l.stream, DefaultMaxFrameSize)
		if err != nil {
			logger.Debug("quic read ended", log.String("peer", l.peer), log.Error(err))
			return
		}
		hub.Deliver(l.peer, frame)
	}
}

// SelfSignedTLS returns a server config with a fresh self-signed
// certificate for localhost.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Arsenal Graft"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}, nil
}
