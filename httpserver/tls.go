package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// handshakeTimeout bounds how long a single client may spend in the TLS
// handshake before its connection is dropped.
const handshakeTimeout = 10 * time.Second

// tlsAcceptListener accepts raw TCP connections and performs the TLS
// handshake on a dedicated goroutine per connection. Only successfully
// handshaken connections are surfaced through Accept. A failed or panicking
// handshake is logged, counted and dropped; the accept loop keeps running
// and other connections are unaffected.
type tlsAcceptListener struct {
	inner    net.Listener
	cfg      *tls.Config
	log      *slog.Logger
	failures prometheus.Counter

	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newTLSAcceptListener(inner net.Listener, cfg *tls.Config, log *slog.Logger, failures prometheus.Counter) *tlsAcceptListener {
	l := &tlsAcceptListener{
		inner:    inner,
		cfg:      cfg,
		log:      log,
		failures: failures,
		conns:    make(chan net.Conn),
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l
}

func (l *tlsAcceptListener) acceptLoop() {
	for {
		conn, err := l.inner.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error("Accept failed", "err", err)
			continue
		}
		go l.handshake(conn)
	}
}

func (l *tlsAcceptListener) handshake(conn net.Conn) {
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("Panic during TLS handshake", "err", rec, "remote", conn.RemoteAddr().String())
			conn.Close()
		}
	}()

	tlsConn := tls.Server(conn, l.cfg)
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		l.log.Error("TLS handshake failed", "err", err, "remote", conn.RemoteAddr().String())
		l.failures.Inc()
		conn.Close()
		return
	}

	select {
	case l.conns <- tlsConn:
	case <-l.done:
		tlsConn.Close()
	}
}

// Accept returns the next connection with a completed handshake.
func (l *tlsAcceptListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops the accept loop and closes the underlying listener.
func (l *tlsAcceptListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.inner.Close()
	})
	return l.closeErr
}

// Addr returns the underlying listener's address.
func (l *tlsAcceptListener) Addr() net.Addr {
	return l.inner.Addr()
}
